// Package memstore is an in-process repository.Store. Transactions are serialised under a
// single mutex and roll back by restoring a snapshot, which gives the same all-or-nothing
// guarantees the PostgreSQL store provides for local runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/premium-bot/internal/domain"
	"github.com/Proton-105/premium-bot/internal/repository"
)

type state struct {
	users map[int64]domain.User
	links map[string]domain.PaymentLink
}

// Store implements repository.Store in memory.
type Store struct {
	mu     sync.Mutex
	data   state
	faults map[string]error
}

var _ repository.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		data: state{
			users: make(map[int64]domain.User),
			links: make(map[string]domain.PaymentLink),
		},
		faults: make(map[string]error),
	}
}

// InjectFault makes the next call of the named repository method fail with err.
// Method names match the repository interfaces, e.g. "UpdateEntitlement".
func (s *Store) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

// PutUser stores a copy of user directly, bypassing transactions.
func (s *Store) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[user.ID] = cloneUser(user)
}

// PutPaymentLink stores a copy of link directly, bypassing transactions.
func (s *Store) PutPaymentLink(link domain.PaymentLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.links[link.OrderID] = cloneLink(link)
}

func (s *Store) Users() repository.UserRepository {
	return &users{s: s, lock: true}
}

func (s *Store) PaymentLinks() repository.PaymentLinkRepository {
	return &links{s: s, lock: true}
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// WithinTx runs fn with exclusive access and restores the previous state unless fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
	}()

	if err := fn(ctx, tx{s: s}); err != nil {
		return err
	}
	committed = true

	return nil
}

type tx struct {
	s *Store
}

func (t tx) Users() repository.UserRepository {
	return &users{s: t.s}
}

func (t tx) PaymentLinks() repository.PaymentLinkRepository {
	return &links{s: t.s}
}

// acquire locks the store for autocommit callers; transactional callers already hold it.
func (s *Store) acquire(lock bool) func() {
	if !lock {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) fault(method string) error {
	err, ok := s.faults[method]
	if !ok {
		return nil
	}
	delete(s.faults, method)
	return err
}

type users struct {
	s    *Store
	lock bool
}

func (u *users) GetUser(_ context.Context, id int64) (*domain.User, error) {
	defer u.s.acquire(u.lock)()
	return u.get("GetUser", id)
}

func (u *users) GetUserForUpdate(_ context.Context, id int64) (*domain.User, error) {
	defer u.s.acquire(u.lock)()
	return u.get("GetUserForUpdate", id)
}

func (u *users) get(method string, id int64) (*domain.User, error) {
	if err := u.s.fault(method); err != nil {
		return nil, err
	}

	user, ok := u.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	c := cloneUser(user)
	return &c, nil
}

func (u *users) UpsertUser(_ context.Context, profile domain.Profile, now time.Time) (bool, error) {
	defer u.s.acquire(u.lock)()
	if err := u.s.fault("UpsertUser"); err != nil {
		return false, err
	}

	user, exists := u.s.data.users[profile.ID]
	if !exists {
		user = domain.User{ID: profile.ID, CreatedAt: now}
	}
	if profile.ChatID != 0 {
		chatID := profile.ChatID
		user.ChatID = &chatID
	}
	user.Username = profile.Username
	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	u.s.data.users[profile.ID] = user

	return !exists, nil
}

func (u *users) UpdateEntitlement(_ context.Context, user *domain.User) error {
	defer u.s.acquire(u.lock)()
	if err := u.s.fault("UpdateEntitlement"); err != nil {
		return err
	}

	current, ok := u.s.data.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}

	next := cloneUser(*user)
	current.IsPremium = next.IsPremium
	current.PremiumExpiresAt = next.PremiumExpiresAt
	current.MessageCount = next.MessageCount
	current.LastMessageAt = next.LastMessageAt
	current.LastFeedbackAt = next.LastFeedbackAt
	u.s.data.users[user.ID] = current

	return nil
}

func (u *users) IncrementMessageCount(_ context.Context, id int64, at time.Time) error {
	defer u.s.acquire(u.lock)()
	if err := u.s.fault("IncrementMessageCount"); err != nil {
		return err
	}

	user, ok := u.s.data.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.MessageCount++
	user.LastMessageAt = &at
	u.s.data.users[id] = user

	return nil
}

func (u *users) ListExpiredPremium(_ context.Context, now time.Time) ([]int64, error) {
	defer u.s.acquire(u.lock)()
	if err := u.s.fault("ListExpiredPremium"); err != nil {
		return nil, err
	}

	var ids []int64
	for id, user := range u.s.data.users {
		if user.PremiumExpired(now) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)

	return ids, nil
}

func (u *users) ListUserIDs(context.Context) ([]int64, error) {
	defer u.s.acquire(u.lock)()
	if err := u.s.fault("ListUserIDs"); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(u.s.data.users))
	for id := range u.s.data.users {
		ids = append(ids, id)
	}
	sortIDs(ids)

	return ids, nil
}

type links struct {
	s    *Store
	lock bool
}

func (l *links) CreatePaymentLink(_ context.Context, link *domain.PaymentLink) error {
	defer l.s.acquire(l.lock)()
	if err := l.s.fault("CreatePaymentLink"); err != nil {
		return err
	}

	if _, taken := l.s.data.links[link.OrderID]; taken {
		return repository.ErrDuplicateOrder
	}
	if _, ok := l.s.data.users[link.UserID]; !ok {
		return repository.ErrUnknownUser
	}

	stored := cloneLink(*link)
	stored.Paid = false
	stored.PaidAt = nil
	stored.Expired = false
	l.s.data.links[link.OrderID] = stored

	return nil
}

func (l *links) GetPaymentLinkByOrderID(_ context.Context, orderID string) (*domain.PaymentLink, error) {
	defer l.s.acquire(l.lock)()
	return l.get("GetPaymentLinkByOrderID", orderID)
}

func (l *links) GetPaymentLinkForUpdate(_ context.Context, orderID string) (*domain.PaymentLink, error) {
	defer l.s.acquire(l.lock)()
	return l.get("GetPaymentLinkForUpdate", orderID)
}

func (l *links) get(method, orderID string) (*domain.PaymentLink, error) {
	if err := l.s.fault(method); err != nil {
		return nil, err
	}

	link, ok := l.s.data.links[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	c := cloneLink(link)
	return &c, nil
}

func (l *links) MarkPaymentLinkPaid(_ context.Context, orderID string, at time.Time) error {
	defer l.s.acquire(l.lock)()
	if err := l.s.fault("MarkPaymentLinkPaid"); err != nil {
		return err
	}

	link, ok := l.s.data.links[orderID]
	if !ok || link.Paid {
		return repository.ErrNotFound
	}
	link.Paid = true
	link.PaidAt = &at
	l.s.data.links[orderID] = link

	return nil
}

func (l *links) ExpireUnpaidLinks(_ context.Context, now time.Time) (int, error) {
	defer l.s.acquire(l.lock)()
	if err := l.s.fault("ExpireUnpaidLinks"); err != nil {
		return 0, err
	}

	expired := 0
	for id, link := range l.s.data.links {
		if link.Paid || link.Expired || !link.IsExpired(now) {
			continue
		}
		link.Expired = true
		l.s.data.links[id] = link
		expired++
	}

	return expired, nil
}

func (d state) clone() state {
	next := state{
		users: make(map[int64]domain.User, len(d.users)),
		links: make(map[string]domain.PaymentLink, len(d.links)),
	}
	for id, user := range d.users {
		next.users[id] = cloneUser(user)
	}
	for id, link := range d.links {
		next.links[id] = cloneLink(link)
	}
	return next
}

func cloneUser(u domain.User) domain.User {
	u.ChatID = cloneInt(u.ChatID)
	u.PremiumExpiresAt = cloneTime(u.PremiumExpiresAt)
	u.LastMessageAt = cloneTime(u.LastMessageAt)
	u.LastFeedbackAt = cloneTime(u.LastFeedbackAt)
	return u
}

func cloneLink(l domain.PaymentLink) domain.PaymentLink {
	l.PaidAt = cloneTime(l.PaidAt)
	return l
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
