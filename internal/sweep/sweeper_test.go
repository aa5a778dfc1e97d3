package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/premium-bot/internal/domain"
	"github.com/Proton-105/premium-bot/internal/entitlement"
	"github.com/Proton-105/premium-bot/internal/jobs"
	"github.com/Proton-105/premium-bot/internal/payment"
	"github.com/Proton-105/premium-bot/internal/repository/memstore"
)

type blockingEntitlements struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingEntitlements) ExpireSweep(context.Context) (entitlement.SweepReport, error) {
	close(b.started)
	<-b.release
	return entitlement.SweepReport{}, nil
}

type stubLinks struct {
	calls int
	err   error
}

func (s *stubLinks) ExpireSweep(context.Context) (int, error) {
	s.calls++
	return 0, s.err
}

type failingEntitlements struct{}

func (failingEntitlements) ExpireSweep(context.Context) (entitlement.SweepReport, error) {
	return entitlement.SweepReport{}, errors.New("db down")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeper_ExpiresPremiumAndLinks(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memstore.New()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	store.PutUser(domain.User{ID: 1, IsPremium: true, PremiumExpiresAt: &past})
	store.PutUser(domain.User{ID: 2, IsPremium: true, PremiumExpiresAt: &future})
	store.PutPaymentLink(domain.PaymentLink{OrderID: "old", UserID: 1, CreatedAt: past, ExpiresAt: past})

	entitlements := entitlement.NewService(store, entitlement.Limits{MaxRegular: 1, MaxPremium: 10}, testLogger(), entitlement.WithClock(clock))
	registry := payment.NewRegistry(store, payment.Config{}, testLogger(), payment.WithClock(clock))

	report, err := New(entitlements, registry, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entitlement.SweepReport{Scanned: 1, Revoked: 1}, report.Premium)
	assert.Equal(t, 1, report.ExpiredLinks)

	expired, err := store.Users().GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, expired.IsPremium)

	active, err := store.Users().GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, active.IsPremium)
}

func TestSweeper_SkipsOverlappingRun(t *testing.T) {
	blocking := &blockingEntitlements{started: make(chan struct{}), release: make(chan struct{})}
	links := &stubLinks{}
	sweeper := New(blocking, links, testLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := sweeper.Run(context.Background())
		assert.NoError(t, err)
	}()

	<-blocking.started
	_, err := sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	// the scheduled trigger acknowledges instead of piling up retries
	assert.NoError(t, sweeper.ProcessTask(context.Background(), jobs.NewSweepTask("", time.Hour)))

	close(blocking.release)
	wg.Wait()
	assert.Equal(t, 1, links.calls)
}

func TestSweeper_LinkSweepRunsWhenPremiumSweepFails(t *testing.T) {
	links := &stubLinks{}
	sweeper := New(failingEntitlements{}, links, testLogger())

	_, err := sweeper.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, links.calls)

	err = sweeper.ProcessTask(context.Background(), jobs.NewSweepTask("", time.Hour))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
