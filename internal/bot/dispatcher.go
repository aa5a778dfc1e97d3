package bot

import (
	"context"
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/premium-bot/internal/state"
)

// Dispatcher routes free text to state-specific handlers.
type Dispatcher struct {
	fsm           state.StateMachine
	stateHandlers map[state.State]telebot.HandlerFunc
	log           *slog.Logger
	mu            sync.RWMutex
}

// NewDispatcher creates a Dispatcher with an empty handlers registry.
func NewDispatcher(fsm state.StateMachine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		fsm:           fsm,
		stateHandlers: make(map[state.State]telebot.HandlerFunc),
		log:           log,
	}
}

// RegisterStateHandler registers a handler for the provided state.
func (d *Dispatcher) RegisterStateHandler(s state.State, h telebot.HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateHandlers[s] = h
}

// Resolve returns the handler for the sender's current state, or nil when the state has none.
// A state lookup failure is treated as idle.
func (d *Dispatcher) Resolve(c telebot.Context) telebot.HandlerFunc {
	if d.fsm == nil || c == nil || c.Sender() == nil {
		return nil
	}

	userID := c.Sender().ID
	current, err := d.fsm.Current(context.Background(), userID)
	if err != nil {
		d.log.Warn("failed to load conversation state", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateHandlers[current]
}
