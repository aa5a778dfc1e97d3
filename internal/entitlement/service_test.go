package entitlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/repository/memstore"
)

var testLimits = Limits{
	MaxRegular:       1,
	MaxPremium:       10,
	Window:           time.Hour,
	FeedbackCooldown: 24 * time.Hour,
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
}

func (n *recordingNotifier) Enqueue(_ context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.messages == nil {
		n.messages = make(map[int64][]string)
	}
	n.messages[userID] = append(n.messages[userID], text)
	return nil
}

func setupService(t *testing.T, opts ...Option) (*Service, *memstore.Store, *fakeClock) {
	t.Helper()

	store := memstore.New()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return NewService(store, testLimits, testLogger(), opts...), store, clock
}

func registerUser(t *testing.T, svc *Service, id int64) {
	t.Helper()

	_, err := svc.EnsureUser(context.Background(), domain.Profile{ID: id, ChatID: id * 10, Username: "user"})
	require.NoError(t, err)
}

func TestIsWithinLimit_RegularUserScenario(t *testing.T) {
	svc, _, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 1)

	allowed, remaining, err := svc.IsWithinLimit(ctx, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	require.NoError(t, svc.RecordMessage(ctx, 1))

	allowed, remaining, err = svc.IsWithinLimit(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	clock.Advance(3601 * time.Second)

	allowed, remaining, err = svc.IsWithinLimit(ctx, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestIsWithinLimit_UnknownUser(t *testing.T) {
	svc, _, _ := setupService(t)

	allowed, remaining, err := svc.IsWithinLimit(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestRecordMessage_CountsEveryMessageWithinWindow(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 7)

	_, err := svc.GrantPremium(ctx, 7, 30)
	require.NoError(t, err)

	for n := 1; n <= testLimits.MaxPremium+2; n++ {
		allowed, _, err := svc.IsWithinLimit(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, n-1 < testLimits.MaxPremium, allowed, "message %d", n)

		require.NoError(t, svc.RecordMessage(ctx, 7))
		clock.Advance(time.Minute)

		user, err := store.Users().GetUser(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, n, user.MessageCount)
	}
}

func TestIsWithinLimit_ResetIsPersisted(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 3)

	lastMessage := clock.Now()
	store.PutUser(domain.User{ID: 3, MessageCount: 42, LastMessageAt: &lastMessage})

	clock.Advance(time.Hour)

	allowed, remaining, err := svc.IsWithinLimit(ctx, 3)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, testLimits.MaxRegular, remaining)

	user, err := store.Users().GetUser(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, user.MessageCount)
}

func TestCheckAndRecord_ConcurrentMessagesDoNotLoseUpdates(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 9)

	_, err := svc.GrantPremium(ctx, 9, 30)
	require.NoError(t, err)

	const senders = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quota, err := svc.CheckAndRecord(ctx, 9)
			assert.NoError(t, err)
			if quota.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, testLimits.MaxPremium, allowed)

	user, err := store.Users().GetUser(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, testLimits.MaxPremium, user.MessageCount)
}

func TestGrantPremium_SetsExpirationAndResetsCounter(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 5)
	require.NoError(t, svc.RecordMessage(ctx, 5))

	expiresAt, err := svc.GrantPremium(ctx, 5, 30)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().AddDate(0, 0, 30), expiresAt)

	user, err := store.Users().GetUser(ctx, 5)
	require.NoError(t, err)
	assert.True(t, user.IsPremium)
	require.NotNil(t, user.PremiumExpiresAt)
	assert.Equal(t, expiresAt, *user.PremiumExpiresAt)
	assert.Zero(t, user.MessageCount)
}

func TestGrantPremium_RepeatedGrantOverwrites(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 5)

	_, err := svc.GrantPremium(ctx, 5, 30)
	require.NoError(t, err)

	clock.Advance(10 * 24 * time.Hour)
	second, err := svc.GrantPremium(ctx, 5, 30)
	require.NoError(t, err)

	user, err := store.Users().GetUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, second, *user.PremiumExpiresAt)
	assert.Equal(t, clock.Now().AddDate(0, 0, 30), second)
}

func TestGrantPremium_UnknownUser(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.GrantPremium(context.Background(), 77, 30)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGrantPremium_PersistenceFailureRollsBack(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 5)

	store.InjectFault("UpdateEntitlement", errors.New("disk full"))

	_, err := svc.GrantPremium(ctx, 5, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.KindPersistence)
	assert.True(t, apperrors.IsRetryable(err))

	user, err := store.Users().GetUser(ctx, 5)
	require.NoError(t, err)
	assert.False(t, user.IsPremium)
	assert.Nil(t, user.PremiumExpiresAt)
}

func TestRevoke_ClearsPremium(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 5)

	_, err := svc.GrantPremium(ctx, 5, 30)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, 5))

	user, err := store.Users().GetUser(ctx, 5)
	require.NoError(t, err)
	assert.False(t, user.IsPremium)
	assert.Nil(t, user.PremiumExpiresAt)
}

func TestExpireSweep_RevokesOnlyExpired(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		registerUser(t, svc, id)
	}

	_, err := svc.GrantPremium(ctx, 1, 1)
	require.NoError(t, err)
	_, err = svc.GrantPremium(ctx, 2, 30)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)

	report, err := svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 1, Revoked: 1}, report)

	expired, err := store.Users().GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, expired.IsPremium)
	assert.Nil(t, expired.PremiumExpiresAt)

	active, err := store.Users().GetUser(ctx, 2)
	require.NoError(t, err)
	assert.True(t, active.IsPremium)
}

func TestExpireSweep_RowFailureDoesNotBlockOthers(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		registerUser(t, svc, id)
		_, err := svc.GrantPremium(ctx, id, 1)
		require.NoError(t, err)
	}

	clock.Advance(48 * time.Hour)
	store.InjectFault("GetUserForUpdate", errors.New("lock timeout"))

	report, err := svc.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Revoked)
	assert.Equal(t, 1, report.Failed)

	second, err := store.Users().GetUser(ctx, 2)
	require.NoError(t, err)
	assert.False(t, second.IsPremium)
}

func TestIsWithinLimit_LapsedPremiumCountsAsRegular(t *testing.T) {
	svc, _, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 8)

	_, err := svc.GrantPremium(ctx, 8, 1)
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	_, remaining, err := svc.IsWithinLimit(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, testLimits.MaxRegular, remaining)

	status, err := svc.Status(ctx, 8)
	require.NoError(t, err)
	assert.False(t, status.Premium)
	assert.Equal(t, testLimits.MaxRegular, status.Limit)
}

func TestEnsureUser_AnnouncesOnlyNewUsers(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store, _ := setupService(t, WithAdminNotifier(1000, notifier))
	ctx := context.Background()

	created, err := svc.EnsureUser(ctx, domain.Profile{ID: 11, ChatID: 110, Username: "neo"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureUser(ctx, domain.Profile{ID: 11, ChatID: 111, Username: "neo"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Len(t, notifier.messages[1000], 1)
	assert.Contains(t, notifier.messages[1000][0], "@neo")

	user, err := store.Users().GetUser(ctx, 11)
	require.NoError(t, err)
	require.NotNil(t, user.ChatID)
	assert.Equal(t, int64(111), *user.ChatID)
}

func TestStatus_DoesNotMutate(t *testing.T) {
	svc, store, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 4)
	require.NoError(t, svc.RecordMessage(ctx, 4))

	clock.Advance(2 * time.Hour)

	status, err := svc.Status(ctx, 4)
	require.NoError(t, err)
	assert.False(t, status.Premium)
	assert.Equal(t, 1, status.Remaining)

	user, err := store.Users().GetUser(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, user.MessageCount)
}

func TestTryFeedback(t *testing.T) {
	svc, _, clock := setupService(t)
	ctx := context.Background()
	registerUser(t, svc, 6)

	decision, err := svc.TryFeedback(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, FeedbackDecision{Reason: FeedbackPremiumOnly}, decision)

	_, err = svc.GrantPremium(ctx, 6, 30)
	require.NoError(t, err)

	decision, err = svc.TryFeedback(ctx, 6)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	clock.Advance(time.Hour)
	decision, err = svc.TryFeedback(ctx, 6)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, FeedbackCooldown, decision.Reason)
	assert.Equal(t, 23*time.Hour, decision.RetryAfter)

	clock.Advance(23 * time.Hour)
	decision, err = svc.TryFeedback(ctx, 6)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
