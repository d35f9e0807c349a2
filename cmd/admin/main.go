// Command admin provisions hospital listings and manages admin accounts.
//
//	admin provision -hospital "Seoul Skin Clinic" -email owner@clinic.test -name "Dr. Kim"
//	admin reset-password -email owner@clinic.test
//
// Passwords are read from ADMIN_PASSWORD so they stay out of shell history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-admin/internal/auth"
	appconfig "github.com/wolfman30/clinic-admin/internal/config"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

// accounts is the part of auth.Service the commands drive.
type accounts interface {
	Provision(ctx context.Context, in auth.ProvisionInput) (*auth.Admin, error)
	ResetPassword(ctx context.Context, email, password string) error
}

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	svc := auth.NewService(auth.NewRepository(pool), auth.SessionConfig{
		Secret:     cfg.AdminJWTSecret,
		CookieName: cfg.AdminSessionCookie,
		TTL:        cfg.AdminSessionTTL,
	}, nil, logger)

	err = run(ctx, svc, os.Args[1:], os.Getenv("ADMIN_PASSWORD"), os.Stdout)
	pool.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, svc accounts, args []string, password string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: admin <provision|reset-password> [flags]")
	}
	if len(password) < 8 {
		return errors.New("ADMIN_PASSWORD must be set to at least 8 characters")
	}

	switch args[0] {
	case "provision":
		fs := flag.NewFlagSet("provision", flag.ContinueOnError)
		fs.SetOutput(out)
		hospitalName := fs.String("hospital", "", "hospital display name")
		email := fs.String("email", "", "admin email")
		name := fs.String("name", "", "admin display name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		admin, err := svc.Provision(ctx, auth.ProvisionInput{
			HospitalName: *hospitalName,
			Email:        *email,
			Name:         *name,
			Password:     password,
		})
		if err != nil {
			return fmt.Errorf("provision: %w", err)
		}
		fmt.Fprintf(out, "created admin %s for hospital %s\n", admin.Email, admin.HospitalID)
	case "reset-password":
		fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
		fs.SetOutput(out)
		email := fs.String("email", "", "admin email")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := svc.ResetPassword(ctx, *email, password); err != nil {
			return fmt.Errorf("reset password: %w", err)
		}
		fmt.Fprintf(out, "password updated for %s\n", *email)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
