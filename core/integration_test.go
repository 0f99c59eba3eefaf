//go:build integration

package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dashboard_db"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	return dsn
}

func TestPostgresEndToEnd(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, Migrate(ctx, dsn))
	require.NoError(t, Migrate(ctx, dsn), "migrations are idempotent")

	pool, err := Connect(ctx, Config{DatabaseURL: dsn, DBMaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	assert.Equal(t, int32(10), pool.Config().MaxConns)

	users := NewPgUserRepository(pool)
	audit := NewAuditLogger(NewPgAuditRepository(pool))
	tokens, err := NewTokenIssuer("integration-secret")
	require.NoError(t, err)
	svc := NewAuthService(users, tokens, audit, NewMetrics(), 5*time.Second)

	require.NoError(t, BootstrapAdmin(ctx, users, Config{BootstrapAdminEnabled: true, InitialAdminPassword: "bootstrap-pass"}))
	admin, err := svc.Login(ctx, "admin", "bootstrap-pass", testOrigin)
	require.NoError(t, err)
	actor := &SessionClaims{UserID: admin.User.ID, Role: RoleAdmin}

	carol, err := svc.CreateUser(ctx, actor, CreateUserInput{Username: "carol", Email: "carol@example.com", Password: "carol-pass"}, testOrigin)
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, actor, CreateUserInput{Username: "carol", Email: "c2@example.com", Password: "carol-pass"}, testOrigin)
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = svc.Login(ctx, "carol", "carol-pass", testOrigin)
	require.NoError(t, err)
	_, err = svc.Login(ctx, "carol", "wrong-pass", testOrigin)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "wrong-pass", testOrigin)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.DeleteUser(ctx, actor, carol.ID, testOrigin))

	logs, err := audit.List(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, logs, 6)
	assert.Equal(t, ActionUserDeleted, logs[0].Action)
	for i := 1; i < len(logs); i++ {
		prev, cur := logs[i-1], logs[i]
		assert.False(t, cur.CreatedAt.After(prev.CreatedAt), "entries must be newest first")
		if cur.CreatedAt.Equal(prev.CreatedAt) {
			assert.Less(t, cur.ID, prev.ID)
		}
	}

	var carolEvents int
	for _, e := range logs {
		if e.Description != nil && *e.Description == "User logged in successfully" && e.UserID == nil {
			carolEvents++
			assert.Nil(t, e.Username)
		}
	}
	assert.Equal(t, 1, carolEvents, "deleted user's events keep a NULL reference")

	page, err := audit.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, logs[1].ID, page[0].ID)
}
