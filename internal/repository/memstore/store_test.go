package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/premium-bot/internal/domain"
	"github.com/Proton-105/premium-bot/internal/repository"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestUpsertUser_CreatesThenRefreshes(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.Users().UpsertUser(ctx, domain.Profile{ID: 1, ChatID: 10, Username: "alice"}, t0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Users().UpsertUser(ctx, domain.Profile{ID: 1, ChatID: 11, Username: "alice2"}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	user, err := s.Users().GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(11), *user.ChatID)
	assert.Equal(t, "alice2", user.Username)
	assert.Equal(t, t0, user.CreatedAt)
}

func TestUpsertUser_ChatlessUpdateKeepsChatID(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Users().UpsertUser(ctx, domain.Profile{ID: 7, ChatID: 700}, t0)
	require.NoError(t, err)

	_, err = s.Users().UpsertUser(ctx, domain.Profile{ID: 7, Username: "renamed"}, t0.Add(time.Minute))
	require.NoError(t, err)

	user, err := s.Users().GetUser(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, user.ChatID)
	assert.Equal(t, int64(700), *user.ChatID)
	assert.Equal(t, "renamed", user.Username)
}

func TestUpsertUser_NewUserWithoutChat(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.Users().UpsertUser(ctx, domain.Profile{ID: 8}, t0)
	require.NoError(t, err)
	assert.True(t, created)

	user, err := s.Users().GetUser(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, user.ChatID)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutUser(domain.User{ID: 1})

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.Users().GetUserForUpdate(ctx, 1)
		require.NoError(t, err)
		user.SetPremium(t0.Add(24 * time.Hour))
		require.NoError(t, tx.Users().UpdateEntitlement(ctx, user))
		return boom
	})
	require.ErrorIs(t, err, boom)

	user, err := s.Users().GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, user.IsPremium)
	assert.Nil(t, user.PremiumExpiresAt)
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutUser(domain.User{ID: 1})

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Users().IncrementMessageCount(ctx, 1, t0)
	})
	require.NoError(t, err)

	user, err := s.Users().GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, user.MessageCount)
	assert.Equal(t, t0, *user.LastMessageAt)
}

func TestGetUser_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutUser(domain.User{ID: 1, MessageCount: 3})

	user, err := s.Users().GetUser(ctx, 1)
	require.NoError(t, err)
	user.MessageCount = 99

	again, err := s.Users().GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, again.MessageCount)
}

func TestPaymentLinks_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutUser(domain.User{ID: 7})
	links := s.PaymentLinks()

	link := &domain.PaymentLink{OrderID: "1-7", UserID: 7, Amount: 10, CreatedAt: t0, ExpiresAt: t0.Add(30 * time.Minute)}
	require.NoError(t, links.CreatePaymentLink(ctx, link))
	assert.ErrorIs(t, links.CreatePaymentLink(ctx, link), repository.ErrDuplicateOrder)
	assert.ErrorIs(t, links.CreatePaymentLink(ctx, &domain.PaymentLink{OrderID: "1-8", UserID: 8}), repository.ErrUnknownUser)

	require.NoError(t, links.MarkPaymentLinkPaid(ctx, "1-7", t0.Add(time.Minute)))
	assert.ErrorIs(t, links.MarkPaymentLinkPaid(ctx, "1-7", t0.Add(2*time.Minute)), repository.ErrNotFound)

	got, err := links.GetPaymentLinkByOrderID(ctx, "1-7")
	require.NoError(t, err)
	assert.True(t, got.Paid)
	assert.Equal(t, t0.Add(time.Minute), *got.PaidAt)

	_, err = links.GetPaymentLinkByOrderID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestExpireUnpaidLinks_SkipsPaid(t *testing.T) {
	ctx := context.Background()
	s := New()
	paidAt := t0
	s.PutPaymentLink(domain.PaymentLink{OrderID: "a", ExpiresAt: t0.Add(-time.Minute)})
	s.PutPaymentLink(domain.PaymentLink{OrderID: "b", ExpiresAt: t0.Add(-time.Minute), Paid: true, PaidAt: &paidAt})
	s.PutPaymentLink(domain.PaymentLink{OrderID: "c", ExpiresAt: t0.Add(time.Minute)})

	n, err := s.PaymentLinks().ExpireUnpaidLinks(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.PaymentLinks().ExpireUnpaidLinks(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)

	b, err := s.PaymentLinks().GetPaymentLinkByOrderID(ctx, "b")
	require.NoError(t, err)
	assert.False(t, b.Expired)
}

func TestListExpiredPremium(t *testing.T) {
	ctx := context.Background()
	s := New()
	past, future := t0.Add(-time.Second), t0.Add(time.Hour)
	s.PutUser(domain.User{ID: 3, IsPremium: true, PremiumExpiresAt: &past})
	s.PutUser(domain.User{ID: 1, IsPremium: true, PremiumExpiresAt: &past})
	s.PutUser(domain.User{ID: 2, IsPremium: true, PremiumExpiresAt: &future})
	s.PutUser(domain.User{ID: 4})

	ids, err := s.Users().ListExpiredPremium(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	all, err := s.Users().ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, all)
}

func TestInjectFault_FiresOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutUser(domain.User{ID: 1})
	boom := errors.New("db down")
	s.InjectFault("GetUser", boom)

	_, err := s.Users().GetUser(ctx, 1)
	assert.ErrorIs(t, err, boom)

	_, err = s.Users().GetUser(ctx, 1)
	assert.NoError(t, err)
}

func TestWithinTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().WithinTx(ctx, func(context.Context, repository.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
