package bot

import (
	"log/slog"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"
)

// Router dispatches commands, menu buttons and state-aware free text.
type Router struct {
	mu             sync.RWMutex
	commands       map[string]telebot.HandlerFunc
	buttons        map[string]telebot.HandlerFunc
	dispatcher     *Dispatcher
	defaultHandler telebot.HandlerFunc
	middlewares    []telebot.MiddlewareFunc
	log            *slog.Logger
}

// NewRouter builds a Router with empty registries.
func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		commands:   make(map[string]telebot.HandlerFunc),
		buttons:    make(map[string]telebot.HandlerFunc),
		dispatcher: dispatcher,
		log:        log,
	}
}

// RegisterCommand registers a handler for a bot command.
func (r *Router) RegisterCommand(cmd string, h telebot.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd] = h
}

// RegisterButton registers a handler for a reply-keyboard button label.
func (r *Router) RegisterButton(label string, h telebot.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buttons[label] = h
}

// Use appends a middleware to the chain.
func (r *Router) Use(mw telebot.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// SetDefault sets the fallback handler for free text.
func (r *Router) SetDefault(h telebot.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = h
}

// Route directs the incoming update to the appropriate handler. Commands and buttons
// take precedence over the conversation state so a user can always leave it.
func (r *Router) Route(c telebot.Context) error {
	if c == nil || c.Sender() == nil {
		return nil
	}

	text := strings.TrimSpace(c.Text())

	if strings.HasPrefix(text, "/") {
		if handler := r.command(commandName(text)); handler != nil {
			return r.execute(handler, c)
		}
	}

	if handler := r.button(text); handler != nil {
		return r.execute(handler, c)
	}

	if r.dispatcher != nil {
		if handler := r.dispatcher.Resolve(c); handler != nil {
			return r.execute(handler, c)
		}
	}

	r.mu.RLock()
	fallback := r.defaultHandler
	r.mu.RUnlock()
	if fallback != nil {
		return r.execute(fallback, c)
	}

	return nil
}

func (r *Router) execute(h telebot.HandlerFunc, c telebot.Context) error {
	r.mu.RLock()
	middlewares := make([]telebot.MiddlewareFunc, len(r.middlewares))
	copy(middlewares, r.middlewares)
	r.mu.RUnlock()

	wrapped := h
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}

	return wrapped(c)
}

func (r *Router) command(cmd string) telebot.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[cmd]
}

func (r *Router) button(label string) telebot.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buttons[label]
}

// commandName extracts "/cmd" from "/cmd@bot payload".
func commandName(text string) string {
	name := text
	if i := strings.IndexAny(name, " \n\t"); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// commandPayload returns the text after the command token.
func commandPayload(c telebot.Context) string {
	if msg := c.Message(); msg != nil && msg.Payload != "" {
		return strings.TrimSpace(msg.Payload)
	}

	text := strings.TrimSpace(c.Text())
	if i := strings.IndexAny(text, " \n\t"); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return ""
}
