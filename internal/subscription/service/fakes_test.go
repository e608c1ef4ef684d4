package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subgate/internal/access"
	"subgate/internal/btzpay"
	"subgate/internal/plan"
	"subgate/internal/subscription/repository"
)

const (
	ownerID     = int64(1)
	userID      = int64(1001)
	freeGroupID = int64(-1000)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeGateway struct {
	mu    sync.Mutex
	clock *fakeClock

	seq         int
	creates     []btzpay.CreateIntentRequest
	statusCalls int
	cancels     []string

	statuses      map[string]string // raw status by transaction id
	defaultStatus string

	createErr error
	statusErr error
	cancelErr error
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req btzpay.CreateIntentRequest) (*btzpay.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	return &btzpay.Intent{
		TransactionID: fmt.Sprintf("T%d", g.seq),
		AccessKey:     fmt.Sprintf("K%d", g.seq),
		PaymentURL:    fmt.Sprintf("U%d", g.seq),
		ExpiresAt:     g.clock.Now().Add(time.Duration(req.TimeoutMs) * time.Millisecond),
		Status:        "pending",
	}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, transactionID, accessKey string) (*btzpay.TransactionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	raw, ok := g.statuses[transactionID]
	if !ok {
		raw = g.defaultStatus
	}
	return &btzpay.TransactionStatus{Status: raw, Raw: map[string]any{"status": raw}}, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, transactionID, reason string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, transactionID)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return map[string]any{}, nil
}

func (g *fakeGateway) setStatus(raw string) {
	g.mu.Lock()
	g.defaultStatus = raw
	g.mu.Unlock()
}

func (g *fakeGateway) setTxStatus(txID, raw string) {
	g.mu.Lock()
	if g.statuses == nil {
		g.statuses = make(map[string]string)
	}
	g.statuses[txID] = raw
	g.mu.Unlock()
}

func (g *fakeGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates)
}

type testEnv struct {
	engine  *Engine
	subs    *Service
	gateway *fakeGateway
	clock   *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_800_000_000, 0).UTC()}
	gw := &fakeGateway{clock: clock, defaultStatus: "pending"}

	catalog, err := plan.NewCatalog(plan.Defaults()...)
	require.NoError(t, err)

	subs := NewService(repository.NewInMemoryRepository(), clock.Now)
	engine := NewEngine(subs, gw, catalog, EngineConfig{
		Policy: access.NewPolicy(ownerID, nil, nil, freeGroupID),
	})
	return &testEnv{engine: engine, subs: subs, gateway: gw, clock: clock}
}

// activate buys planID and settles it at the current clock.
func (env *testEnv) activate(t *testing.T, user int64, planID string) {
	t.Helper()
	ctx := context.Background()
	res, err := env.engine.Buy(ctx, user, planID)
	require.NoError(t, err)
	env.gateway.setTxStatus(res.Pending.GatewayTransactionID, "sukses")
	check, err := env.engine.CheckPending(ctx, user)
	require.NoError(t, err)
	require.Equal(t, OutcomeActivated, check.Outcome)
}
