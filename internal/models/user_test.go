package models_test

import (
	"reflect"
	"testing"

	"relaychat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestUserBeforeCreate_GeneratesUUID verifies that the BeforeCreate hook generates a valid UUID.
func TestUserBeforeCreate_GeneratesUUID(t *testing.T) {
	// Arrange
	user := &models.User{Username: "alice"}
	assert.Empty(t, user.ID, "User ID should be empty before BeforeCreate")

	// Act - GORM would call this automatically
	err := user.BeforeCreate(nil)

	// Assert
	assert.NoError(t, err)
	parsed, parseErr := uuid.Parse(user.ID)
	assert.NoError(t, parseErr, "User ID must be a valid UUID string")
	assert.NotEqual(t, uuid.Nil, parsed)
}

// TestUserBeforeCreate_PreservesExistingID verifies that the hook doesn't overwrite an existing ID.
func TestUserBeforeCreate_PreservesExistingID(t *testing.T) {
	existingID := uuid.New().String()
	user := &models.User{ID: existingID, Username: "bob"}

	err := user.BeforeCreate(nil)

	assert.NoError(t, err)
	assert.Equal(t, existingID, user.ID)
}

// TestUserBeforeCreate_MultipleUsers verifies unique UUIDs are generated for multiple users.
func TestUserBeforeCreate_MultipleUsers(t *testing.T) {
	users := []*models.User{{Username: "a"}, {Username: "b"}, {Username: "c"}}
	generated := make(map[string]bool)

	for _, user := range users {
		assert.NoError(t, user.BeforeCreate(nil))
		assert.NotContains(t, generated, user.ID, "Each user should have a unique ID")
		generated[user.ID] = true
	}

	assert.Len(t, generated, len(users))
}

// TestUserStructTags guards the presence columns against accidental tag removal.
func TestUserStructTags(t *testing.T) {
	userType := reflect.TypeOf(models.User{})

	idField, found := userType.FieldByName("ID")
	assert.True(t, found)
	assert.Contains(t, idField.Tag.Get("gorm"), "primaryKey")
	assert.Equal(t, "id", idField.Tag.Get("json"))

	lastSeen, found := userType.FieldByName("LastSeen")
	assert.True(t, found)
	assert.Contains(t, lastSeen.Tag.Get("json"), "omitempty")

	online, found := userType.FieldByName("IsOnline")
	assert.True(t, found)
	assert.Contains(t, online.Tag.Get("gorm"), "default:false")
}

// BenchmarkUserBeforeCreate measures UUID generation performance.
func BenchmarkUserBeforeCreate(b *testing.B) {
	user := &models.User{Username: "benchmark_user"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		user.ID = ""
		_ = user.BeforeCreate(nil)
	}
}
