package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permitdesk/pkg/api"
	"github.com/platinummonkey/permitdesk/pkg/auth"
	"github.com/platinummonkey/permitdesk/pkg/config"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/storage/postgres"
)

func main() {
	username := flag.String("admin", "", "Administrator username (defaults to PERMITDESK_BOOTSTRAP_USER)")
	issueToken := flag.Bool("token", false, "Issue an API token for the administrator and print it")
	tokenName := flag.String("token-name", "bootstrap", "Name of the issued API token")
	tokenDays := flag.Int("token-days", 30, "Days until the issued token expires, 0 for no expiry")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *username == "" {
		*username = cfg.Authz.BootstrapUser
	}
	if *username == "" {
		logrus.Fatal("No administrator given: pass -admin or set PERMITDESK_BOOTSTRAP_USER")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr).WithField("service", "permitdesk-seed")

	// Seeding always migrates, whatever the server's AutoMigrate setting
	cfg.Database.AutoMigrate = true
	db, err := postgres.Connect(ctx, cfg.Database, logger, api.Migrations()...)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	services, err := api.NewServices(db, api.Options{Authz: cfg.Authz, Logger: logger})
	if err != nil {
		logrus.Fatalf("Failed to build services: %v", err)
	}

	if err := services.RBAC.Initialize(ctx); err != nil {
		logrus.Fatalf("Failed to seed roles: %v", err)
	}
	logrus.Info("Roles and features seeded")

	admin, err := services.RBAC.BootstrapAdmin(ctx, *username)
	if err != nil {
		logrus.Fatalf("Failed to bootstrap administrator: %v", err)
	}
	logrus.Infof("Administrator %s ready (id %d)", admin.Username, admin.ID)

	if !*issueToken {
		return
	}
	created, err := services.Tokens.Create(ctx, admin.ID, auth.CreateTokenRequest{
		Name:        *tokenName,
		Description: "Issued by permitdesk-seed",
		ExpiresIn:   time.Duration(*tokenDays) * 24 * time.Hour,
	})
	if err != nil {
		logrus.Fatalf("Failed to issue token: %v", err)
	}
	// The plaintext token is shown once; only its hash is stored
	fmt.Println(created.Token)
}
