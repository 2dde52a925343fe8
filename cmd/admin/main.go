package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"relaychat/backend/internal/auth"
	"relaychat/backend/internal/config"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  token <user_id> [ttl_hours]          print a signed access token
  user <user_id> <username>            create or rename a user
  dm <user_a> <user_b>                 create a direct conversation
  group <name> <admin> <member...>     create a group conversation
  online                               list users in the Redis presence mirror`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	cfg := config.Load()
	ctx := context.Background()

	command, args := os.Args[1], os.Args[2:]

	// token needs only the secret.
	if command == "token" {
		if len(args) < 1 {
			fmt.Println("Usage: admin token <user_id> [ttl_hours]")
			os.Exit(1)
		}
		ttl := 72 * time.Hour
		if len(args) > 1 {
			hours, err := time.ParseDuration(args[1] + "h")
			if err != nil {
				fmt.Println("Invalid ttl. Please provide a number of hours.")
				os.Exit(1)
			}
			ttl = hours
		}
		token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer).Issue(args[0], ttl)
		if err != nil {
			log.Fatalf("Error signing token: %v", err)
		}
		fmt.Println(token)
		return
	}

	storageSvc := openStorage(cfg)

	switch command {
	case "user":
		if len(args) != 2 {
			fmt.Println("Usage: admin user <user_id> <username>")
			os.Exit(1)
		}
		if err := saveUser(ctx, storageSvc, args[0], args[1]); err != nil {
			log.Fatalf("Error saving user: %v", err)
		}
		fmt.Printf("User %s saved as %s.\n", args[0], args[1])
	case "dm":
		if len(args) != 2 {
			fmt.Println("Usage: admin dm <user_a> <user_b>")
			os.Exit(1)
		}
		conv, err := createConversation(ctx, storageSvc, &models.Conversation{Participants: pq.StringArray(args)})
		if err != nil {
			log.Fatalf("Error creating conversation: %v", err)
		}
		fmt.Printf("Conversation %s created.\n", conv.ID)
	case "group":
		if len(args) < 3 {
			fmt.Println("Usage: admin group <name> <admin> <member...>")
			os.Exit(1)
		}
		conv, err := createConversation(ctx, storageSvc, &models.Conversation{
			Participants: pq.StringArray(args[1:]),
			IsGroup:      true,
			GroupName:    args[0],
			GroupAdmin:   args[1],
		})
		if err != nil {
			log.Fatalf("Error creating group: %v", err)
		}
		fmt.Printf("Group %s created.\n", conv.ID)
	case "online":
		ids, err := storageSvc.OnlineUserIDs(ctx)
		if err != nil {
			log.Fatalf("Error reading presence: %v", err)
		}
		for _, id := range ids {
			seen := "-"
			if t, err := storageSvc.LastSeen(ctx, id); err == nil {
				seen = t.Format(time.RFC3339)
			}
			fmt.Printf("%s\tlast seen %s\n", id, seen)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func openStorage(cfg *config.Config) *storage.Service {
	if cfg.DatabaseDSN == "" {
		log.Fatal("DATABASE_DSN is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	}
	return storage.NewStorageService(db, rdb)
}

func saveUser(ctx context.Context, s storage.Storage, userID, username string) error {
	user, err := s.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		user = &models.User{ID: userID}
	} else if err != nil {
		return err
	}
	user.Username = username
	return s.SaveUser(ctx, user)
}

// createConversation reuses an existing direct conversation instead of
// creating a duplicate.
func createConversation(ctx context.Context, s storage.Storage, conv *models.Conversation) (*models.Conversation, error) {
	if !conv.IsGroup && len(conv.Participants) == 2 {
		if existing, err := s.FindDirectConversation(ctx, conv.Participants[0], conv.Participants[1]); err == nil {
			return existing, nil
		}
	}
	if err := s.SaveConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}
