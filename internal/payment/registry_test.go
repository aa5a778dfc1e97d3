package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/premium-bot/internal/domain"
	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/internal/repository"
	"github.com/Proton-105/premium-bot/internal/repository/memstore"
)

var (
	testNow    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	testConfig = Config{
		MerchantID: "12345",
		Secret1:    "secret-one",
		Currency:   "RUB",
		Lang:       "ru",
		BaseURL:    "https://pay.kassa.shop/",
		LinkTTL:    30 * time.Minute,
	}
)

func setupRegistry(t *testing.T, userIDs ...int64) (*Registry, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	for _, id := range userIDs {
		store.PutUser(domain.User{ID: id, CreatedAt: testNow})
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(store, testConfig, log, WithClock(func() time.Time { return testNow })), store
}

func TestCreateLink_RoundTrip(t *testing.T) {
	registry, store := setupRegistry(t, 42)
	ctx := context.Background()

	rawURL, link, err := registry.CreateLink(ctx, 42, 10)
	require.NoError(t, err)

	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	assert.Equal(t, "pay.kassa.shop", parsed.Host)

	query := parsed.Query()
	assert.Equal(t, "12345", query.Get("m"))
	assert.Equal(t, "10", query.Get("oa"))
	assert.Equal(t, "RUB", query.Get("currency"))
	assert.Equal(t, "ru", query.Get("lang"))
	assert.Equal(t, "42", query.Get("us_user_id"))
	assert.Equal(t, "1", query.Get("strd"))
	assert.Equal(t, link.OrderID, query.Get("o"))
	assert.Equal(t, LinkSignature("12345", "10", "secret-one", "RUB", link.OrderID), query.Get("s"))
	assert.Len(t, query, 8)

	stored, err := store.PaymentLinks().GetPaymentLinkByOrderID(ctx, query.Get("o"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), stored.UserID)
	assert.False(t, stored.Paid)
	assert.Equal(t, stored.CreatedAt.Add(testConfig.LinkTTL), stored.ExpiresAt)
}

func TestCreateLink_OrderIDsAreUniqueWithinOneMillisecond(t *testing.T) {
	registry, _ := setupRegistry(t, 42)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		_, link, err := registry.CreateLink(ctx, 42, 10)
		require.NoError(t, err)
		_, dup := seen[link.OrderID]
		require.False(t, dup, "order id %s reused", link.OrderID)
		seen[link.OrderID] = struct{}{}
	}
}

func TestCreateLink_RetriesOnCollision(t *testing.T) {
	registry, store := setupRegistry(t, 42)

	taken := strconv.FormatInt(testNow.UnixMilli(), 10) + "-42"
	store.PutPaymentLink(domain.PaymentLink{OrderID: taken, UserID: 42, Amount: 10, CreatedAt: testNow})

	_, link, err := registry.CreateLink(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(testNow.UnixMilli()+1, 10)+"-42", link.OrderID)
}

func TestCreateLink_Rejections(t *testing.T) {
	registry, store := setupRegistry(t, 42)
	ctx := context.Background()

	_, _, err := registry.CreateLink(ctx, 42, 0)
	assert.ErrorIs(t, err, apperrors.KindValidation)

	_, _, err = registry.CreateLink(ctx, 7, 10)
	assert.ErrorIs(t, err, apperrors.KindValidation)

	store.InjectFault("CreatePaymentLink", errors.New("connection reset"))
	_, _, err = registry.CreateLink(ctx, 42, 10)
	assert.ErrorIs(t, err, apperrors.KindPersistence)
}

func TestLookup_NotFound(t *testing.T) {
	registry, _ := setupRegistry(t)

	_, err := registry.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestMarkPaid_Transitions(t *testing.T) {
	registry, store := setupRegistry(t, 42)
	ctx := context.Background()

	_, link, err := registry.CreateLink(ctx, 42, 10)
	require.NoError(t, err)

	mark := func(orderID string) MarkResult {
		var result MarkResult
		err := store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			result, err = registry.MarkPaid(ctx, tx, orderID)
			return err
		})
		require.NoError(t, err)
		return result
	}

	assert.Equal(t, MarkSuccess, mark(link.OrderID))
	assert.Equal(t, MarkAlreadyPaid, mark(link.OrderID))
	assert.Equal(t, MarkNotFound, mark("unknown"))

	stored, err := registry.Lookup(ctx, link.OrderID)
	require.NoError(t, err)
	assert.True(t, stored.Paid)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, testNow, *stored.PaidAt)
}

func TestMarkPaid_RolledBackWithTransaction(t *testing.T) {
	registry, store := setupRegistry(t, 42)
	ctx := context.Background()

	_, link, err := registry.CreateLink(ctx, 42, 10)
	require.NoError(t, err)

	boom := errors.New("grant failed")
	err = store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		result, err := registry.MarkPaid(ctx, tx, link.OrderID)
		require.NoError(t, err)
		require.Equal(t, MarkSuccess, result)
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := registry.Lookup(ctx, link.OrderID)
	require.NoError(t, err)
	assert.False(t, stored.Paid)
}

func TestExpireSweep_LeavesPaidLinksAlone(t *testing.T) {
	registry, store := setupRegistry(t, 42)
	ctx := context.Background()

	old := testNow.Add(-time.Hour)
	paidAt := old.Add(time.Minute)
	store.PutPaymentLink(domain.PaymentLink{OrderID: "stale", UserID: 42, Amount: 10, CreatedAt: old, ExpiresAt: old.Add(30 * time.Minute)})
	store.PutPaymentLink(domain.PaymentLink{OrderID: "paid", UserID: 42, Amount: 10, CreatedAt: old, ExpiresAt: old.Add(30 * time.Minute), Paid: true, PaidAt: &paidAt})
	store.PutPaymentLink(domain.PaymentLink{OrderID: "fresh", UserID: 42, Amount: 10, CreatedAt: testNow, ExpiresAt: testNow.Add(30 * time.Minute)})

	n, err := registry.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := registry.Lookup(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, stale.Expired)

	paid, err := registry.Lookup(ctx, "paid")
	require.NoError(t, err)
	assert.False(t, paid.Expired)
	assert.True(t, paid.Paid)

	fresh, err := registry.Lookup(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, fresh.Expired)

	n, err = registry.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
