package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prepdeck/prepdeck-backend/internal/config"
	"github.com/prepdeck/prepdeck-backend/internal/database"
	"github.com/prepdeck/prepdeck-backend/internal/logger"
	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres unavailable")
	}
	defer pool.Close()

	fmt.Println("=== Create New User ===")

	name := prompt("Name")
	if name == "" {
		fail("name is required")
	}
	email := prompt("Email")
	if email == "" {
		fail("email is required")
	}

	fmt.Print("Password: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fail("could not read password")
	}
	if len(secret) < 6 {
		fail("password must be at least 6 characters")
	}

	isAdmin := strings.EqualFold(prompt("Admin account? (y/N)"), "y")

	hash, err := bcrypt.GenerateFromPassword(secret, cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("hash password")
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		IsAdmin:      isAdmin,
	}
	if err := repository.NewUserRepository(pool).Create(ctx, user); err != nil {
		log.Fatal().Err(err).Msg("create user")
	}

	fmt.Printf("\nCreated user %q (%s) with id %s\n", user.Name, user.Email, user.ID)
}

func prompt(label string) string {
	fmt.Print(label + ": ")
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
