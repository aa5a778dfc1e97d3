package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/premium-bot/internal/health"
	"github.com/Proton-105/premium-bot/internal/repository/memstore"
	"github.com/Proton-105/premium-bot/internal/webhook"
	"github.com/Proton-105/premium-bot/pkg/logger"
)

type staticReporter struct {
	report health.Report
}

func (s staticReporter) Check(context.Context) health.Report {
	return s.report
}

type panickingReporter struct{}

func (panickingReporter) Check(context.Context) health.Report {
	panic("checker exploded")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, reporter HealthReporter, allowedIPs ...string) http.Handler {
	t.Helper()

	verifier := webhook.NewVerifier(
		webhook.Config{MerchantID: "12345", Secret2: "secret-two", Currency: "RUB"},
		memstore.New(), nil, nil, nil, testLogger(),
	)

	return NewRouter(Deps{
		Webhook: webhook.NewHandler(verifier, allowedIPs, testLogger()),
		Health:  reporter,
		Log:     testLogger(),
	})
}

func postForm(router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_WebhookStatusCheck(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := postForm(router, DefaultWebhookPath, url.Values{"status_check": {"1"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "YES", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(logger.CorrelationHeader))
}

func TestRouter_WebhookRejectsForeignMerchant(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := postForm(router, DefaultWebhookPath, url.Values{
		"MERCHANT_ID":       {"99999"},
		"AMOUNT":            {"10"},
		"MERCHANT_ORDER_ID": {"1-1"},
		"SIGN":              {"00000000000000000000000000000000"},
		"us_user_id":        {"1"},
		"intid":             {"77"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO", rec.Body.String())
}

func TestRouter_WebhookAllowlistIgnoresForwardingHeaders(t *testing.T) {
	router := newTestRouter(t, nil, "203.0.113.5")
	form := url.Values{"status_check": {"1"}}

	tests := []struct {
		name       string
		remoteAddr string
		header     string
		value      string
		code       int
		body       string
	}{
		{name: "spoofed x-real-ip", remoteAddr: "198.51.100.7:4242", header: "X-Real-IP", value: "203.0.113.5", code: http.StatusBadRequest, body: "NO"},
		{name: "spoofed x-forwarded-for", remoteAddr: "198.51.100.7:4242", header: "X-Forwarded-For", value: "203.0.113.5", code: http.StatusBadRequest, body: "NO"},
		{name: "allowed peer", remoteAddr: "203.0.113.5:4242", code: http.StatusOK, body: "YES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, DefaultWebhookPath, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestRouter_WebhookPanicAnswersNo(t *testing.T) {
	router := NewRouter(Deps{
		Webhook: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("nil order")
		}),
		Log: testLogger(),
	})

	rec := postForm(router, DefaultWebhookPath, url.Values{"MERCHANT_ORDER_ID": {"1-1"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO", rec.Body.String())
}

func TestRouter_HealthzPanicIsServerError(t *testing.T) {
	router := NewRouter(Deps{Health: panickingReporter{}, Log: testLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_WebhookOnlyAcceptsPost(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultWebhookPath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Healthz(t *testing.T) {
	tests := []struct {
		name   string
		report health.Report
		code   int
	}{
		{
			name:   "healthy",
			report: health.Report{Healthy: true, Components: map[string]string{"redis": "OK"}},
			code:   http.StatusOK,
		},
		{
			name:   "degraded",
			report: health.Report{Healthy: false, Components: map[string]string{"redis": "connection refused"}},
			code:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, staticReporter{report: tt.report})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			require.Equal(t, tt.code, rec.Code)

			var got health.Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.report, got)
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouter_KeepsUpstreamCorrelationID(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(logger.CorrelationHeader, "corr-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", rec.Header().Get(logger.CorrelationHeader))
}
