package core

import (
	"context"
	"errors"
	"log"
)

const (
	bootstrapAdminUsername = "admin"
	bootstrapAdminEmail    = "admin@dashboard.local"
)

// BootstrapAdmin creates the initial admin account when none exists, hashing
// cfg.InitialAdminPassword at provisioning time.
// It is idempotent: if an admin already exists, it does nothing.
func BootstrapAdmin(ctx context.Context, repo UserRepository, cfg Config) error {
	if !cfg.BootstrapAdminEnabled {
		return nil
	}

	has, err := repo.HasAdmin(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	password := cfg.InitialAdminPassword
	if password == "" {
		return errors.New("initial admin password is empty")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	_, created, err := repo.CreateIfAbsent(ctx, NewUser{
		Username:     bootstrapAdminUsername,
		Email:        bootstrapAdminEmail,
		PasswordHash: hash,
		Role:         RoleAdmin,
	})
	if err != nil {
		return err
	}
	if !created {
		log.Printf("[bootstrap] user %q already exists without admin role; skipping", bootstrapAdminUsername)
		return nil
	}

	if password == DefaultAdminPassword {
		log.Printf("WARNING: initial admin %q created with the documented default password; rotate it immediately", bootstrapAdminUsername)
	} else {
		log.Printf("[bootstrap] initial admin %q created", bootstrapAdminUsername)
	}
	return nil
}
