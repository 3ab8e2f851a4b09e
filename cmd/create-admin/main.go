package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/internal/repository"
	"github.com/noah-isme/classroom-api/internal/service"
	"github.com/noah-isme/classroom-api/pkg/config"
	"github.com/noah-isme/classroom-api/pkg/database"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/logger"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

func main() {
	var (
		name  string
		email string
		force bool
	)
	flag.StringVar(&name, "name", "", "Display name of the administrator")
	flag.StringVar(&email, "email", "", "Login email of the administrator")
	flag.BoolVar(&force, "force", false, "Create the account even if an administrator already exists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, db, err := database.NewMongo(ctx, cfg.Mongo)
	if err != nil {
		logr.Fatal("failed to connect document store", zap.Error(err))
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck

	users := repository.NewUserRepository(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		logr.Fatal("failed to ensure indexes", zap.Error(err))
	}
	if !force {
		admins, err := users.CountByRole(ctx, models.RoleAdmin)
		if err != nil {
			logr.Fatal("failed to count administrators", zap.Error(err))
		}
		if admins > 0 {
			fmt.Printf("%d administrator account(s) already exist; rerun with -force to add another\n", admins)
			return
		}
	}

	reader := bufio.NewReader(os.Stdin)
	if name == "" {
		name = prompt(reader, "Name: ")
	}
	if email == "" {
		email = prompt(reader, "Email: ")
	}
	password, err := readPassword(reader)
	if err != nil {
		logr.Fatal("failed to read password", zap.Error(err))
	}

	auth := service.NewAuthService(users, validation.New(), nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	user, err := auth.CreateUser(ctx, models.CreateUserRequest{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     models.RoleAdmin,
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			fmt.Fprintf(os.Stderr, "error: %s\n", appErr.Message)
			for field, msg := range appErr.Details {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
			}
			os.Exit(1)
		}
		logr.Fatal("failed to create administrator", zap.Error(err))
	}

	fmt.Printf("administrator %s <%s> created with id %s\n", user.Name, user.Email, user.ID.Hex())
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// readPassword hides input on a terminal and falls back to a plain line for piped stdin.
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(reader, ""), nil
	}
	fmt.Print("Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
