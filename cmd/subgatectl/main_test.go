package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate/internal/app"
	"subgate/internal/btzpay"
	"subgate/internal/subscription"
	"subgate/pkg/hash"
	"subgate/pkg/jwt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlans(t *testing.T) {
	t.Setenv("PLAN_PRICES", "14d=21000")

	out, err := run(t, "plans")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "7d")
	assert.Contains(t, lines[1], "21000")
	assert.Contains(t, lines[1], "Rp21.000")
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret-0123456789")

	_, err := run(t, "token")
	assert.Error(t, err)

	out, err := run(t, "token", "--user", "55")
	require.NoError(t, err)
	id, err := jwt.ParseToken("cli-secret-0123456789", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
}

func TestHashpw(t *testing.T) {
	out, err := run(t, "hashpw", "s3cret")
	require.NoError(t, err)
	assert.True(t, hash.CheckPassword(strings.TrimSpace(out), "s3cret"))
}

func TestStatusAndReconcile(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "subgate.db"))

	out, err := run(t, "status", "--user", "9")
	require.NoError(t, err)
	assert.Contains(t, out, `"user_id": 9`)
	assert.Contains(t, out, `"active": false`)

	out, err = run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, `"checked": 0`)
}

func TestStatusHidesAccessKey(t *testing.T) {
	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "subgate.db")
	t.Setenv("DATABASE_URL", dbURL)

	repo, conn, err := app.NewRepository(context.Background(), dbURL)
	require.NoError(t, err)
	_, err = repo.Update(context.Background(), 9, func(rec *subscription.Record) error {
		rec.SetPending(subscription.PendingTransaction{
			PlanID:               "7d",
			GatewayTransactionID: "T1",
			GatewayAccessKey:     "secret-access-key",
			PaymentURL:           "https://pay.example/T1",
			LastKnownStatus:      btzpay.StatusPending,
		})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	out, err := run(t, "status", "--user", "9")
	require.NoError(t, err)
	assert.Contains(t, out, `"transaction_id": "T1"`)
	assert.Contains(t, out, "https://pay.example/T1")
	assert.NotContains(t, out, "secret-access-key")
	assert.NotContains(t, out, "access_key")
}

func TestCommandsNeedingStoreFailWithoutIt(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := run(t, "reconcile")
	assert.Error(t, err)
}
