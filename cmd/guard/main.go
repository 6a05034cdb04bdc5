package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"session-guard/internal/app"
	"session-guard/internal/config"
	"session-guard/internal/logger"
	"session-guard/internal/middleware"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logHandler := logger.NewPrettyHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	slog.SetDefault(slog.New(logHandler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}

// issueToken prints an operator bearer token signed with OPERATOR_JWT_SECRET.
func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "operator identifier")
	role := fs.String("role", "operator", "operator or admin")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load()
	secret := os.Getenv("OPERATOR_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("OPERATOR_JWT_SECRET is required")
	}

	token, err := middleware.IssueOperatorToken(secret, *subject, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
