package db

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/rittima/CRM-Team-sub000/internal/domain/auth"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
	"github.com/rittima/CRM-Team-sub000/internal/platform/config"
)

// Seed makes sure the configured HR reviewer exists in the user directory.
// It works against either store driver.
func Seed(ctx context.Context, store users.Store, cfg config.Config) (string, error) {
	email := strings.TrimSpace(cfg.SeedHREmail)
	if email == "" {
		return "", nil
	}

	id := strings.TrimSpace(cfg.SeedHRID)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(email))).String()
	}

	if err := store.Upsert(ctx, users.User{
		ID:    id,
		Name:  cfg.SeedHRName,
		Email: email,
		Role:  auth.RoleHR,
	}); err != nil {
		return "", err
	}
	return id, nil
}
