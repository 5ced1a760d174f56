package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/portfolio"
	"github.com/alanyoungcy/weatherbot/internal/runner"
	"github.com/alanyoungcy/weatherbot/internal/server/handler"
)

type stubBot struct{ starts int }

func (b *stubBot) Status() runner.Status { return runner.Status{BotStatus: runner.StatusStopped} }
func (b *stubBot) Start() bool           { b.starts++; return true }
func (b *stubBot) Stop() bool            { return true }

type stubScores struct{}

func (stubScores) AllScores() map[string]domain.Score { return nil }

type stubInsights struct{}

func (stubInsights) Insights() *portfolio.Insights { return nil }

func newTestServer(cfg Config, bot *stubBot) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, Handlers{
		Health: handler.NewHealthHandler(nil),
		Bot:    handler.NewBotHandler(bot, stubScores{}, stubInsights{}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	}, nil, logger).Handler()
}

func serve(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h := newTestServer(Config{Port: 0}, &stubBot{})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/scores", nil).Code)
	assert.Equal(t, "null", serve(h, http.MethodGet, "/api/insights", nil).Body.String())
	assert.Equal(t, "# metrics\n", serve(h, http.MethodGet, "/metrics", nil).Body.String())
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/api/bot/start", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/audit", nil).Code)
}

func TestBotControlRequiresKey(t *testing.T) {
	bot := &stubBot{}
	h := newTestServer(Config{APIKey: "k"}, bot)

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/api/bot/start", nil).Code)
	assert.Equal(t, 0, bot.starts)

	rec := serve(h, http.MethodPost, "/api/bot/start", map[string]string{"X-API-Key": "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, bot.starts)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/status", nil).Code)
}

func TestRateLimited(t *testing.T) {
	h := newTestServer(Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, &stubBot{})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/api/health", nil).Code)
}
