package webhook

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/render"

	apperrors "github.com/Proton-105/premium-bot/internal/errors"
	"github.com/Proton-105/premium-bot/pkg/metrics"
)

const (
	ackBody    = "YES"
	rejectBody = "NO"
	maxBody    = 64 << 10
)

// Handler exposes the verifier over HTTP. Responses follow the provider contract:
// 200 "YES" on ack, 400 "NO" on reject.
type Handler struct {
	verifier *Verifier
	allowed  map[netip.Addr]struct{}
	log      *slog.Logger
}

// NewHandler builds the HTTP endpoint. An empty allowlist accepts callbacks from any address.
func NewHandler(verifier *Verifier, allowedIPs []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}

	allowed := make(map[netip.Addr]struct{}, len(allowedIPs))
	for _, raw := range allowedIPs {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			log.Warn("ignoring invalid allowlist entry", slog.String("ip", raw))
			continue
		}
		allowed[addr.Unmap()] = struct{}{}
	}

	return &Handler{
		verifier: verifier,
		allowed:  allowed,
		log:      log.With(slog.String("component", "webhook_http")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !h.sourceAllowed(r.RemoteAddr) {
		h.log.WarnContext(ctx, "callback from unexpected address", slog.String("remote_addr", r.RemoteAddr))
		h.write(w, r, Result{Outcome: OutcomeReject, Reason: "ip_not_allowed"}, start)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseForm(); err != nil {
		h.write(w, r, Result{
			Outcome: OutcomeReject,
			Reason:  "malformed",
			Err:     apperrors.NewValidationError("unreadable form body"),
		}, start)
		return
	}

	h.write(w, r, h.verifier.Handle(ctx, PayloadFromForm(r.PostForm)), start)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, result Result, start time.Time) {
	metrics.RecordWebhook(result.Outcome.String(), result.Reason, time.Since(start))

	if result.Outcome == OutcomeAck {
		render.Status(r, http.StatusOK)
		render.PlainText(w, r, ackBody)
		return
	}

	render.Status(r, http.StatusBadRequest)
	render.PlainText(w, r, rejectBody)
}

func (h *Handler) sourceAllowed(remoteAddr string) bool {
	if len(h.allowed) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}

	_, ok := h.allowed[addr.Unmap()]
	return ok
}
