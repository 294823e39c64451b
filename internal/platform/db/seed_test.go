package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rittima/CRM-Team-sub000/internal/domain/auth"
	"github.com/rittima/CRM-Team-sub000/internal/domain/users"
	"github.com/rittima/CRM-Team-sub000/internal/platform/config"
)

type recordingUsers struct {
	saved []users.User
}

func (r *recordingUsers) Resolve(ctx context.Context, id string) (users.User, error) {
	return users.User{}, users.ErrNotFound
}

func (r *recordingUsers) Upsert(ctx context.Context, user users.User) error {
	r.saved = append(r.saved, user)
	return nil
}

func TestSeedSkipsWithoutEmail(t *testing.T) {
	store := &recordingUsers{}
	id, err := Seed(context.Background(), store, config.Config{})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, store.saved)
}

func TestSeedDerivesStableID(t *testing.T) {
	store := &recordingUsers{}
	cfg := config.Config{SeedHREmail: "hr@example.com", SeedHRName: "HR Admin"}

	first, err := Seed(context.Background(), store, cfg)
	require.NoError(t, err)
	second, err := Seed(context.Background(), store, config.Config{SeedHREmail: "HR@example.com", SeedHRName: "HR Admin"})
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
	require.Len(t, store.saved, 2)
	assert.Equal(t, auth.RoleHR, store.saved[0].Role)
}
