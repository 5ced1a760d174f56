package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/weatherbot/internal/domain"
	"github.com/alanyoungcy/weatherbot/internal/portfolio"
	"github.com/alanyoungcy/weatherbot/internal/runner"
)

// BotController is the runner surface exposed over HTTP.
type BotController interface {
	Status() runner.Status
	Start() bool
	Stop() bool
}

// ScoreSource lists the latest score of every tracked market.
type ScoreSource interface {
	AllScores() map[string]domain.Score
}

// InsightsSource computes win-rate insights, nil when there is too little
// history.
type InsightsSource interface {
	Insights() *portfolio.Insights
}

// BotHandler serves the status, control, scores and insights endpoints.
type BotHandler struct {
	bot      BotController
	scores   ScoreSource
	insights InsightsSource
	logger   *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bot BotController, scores ScoreSource, insights InsightsSource, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		bot:      bot,
		scores:   scores,
		insights: insights,
		logger:   logHandler(logger, "bot"),
	}
}

// GetStatus returns the portfolio snapshot with the runner state.
// GET /api/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Status())
}

// Start resumes the cycle loop. Calling it while running is a no-op.
// POST /api/bot/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.bot.Start() {
		h.logger.InfoContext(r.Context(), "bot started via api")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": runner.StatusRunning})
}

// Stop pauses the cycle loop. Calling it while stopped is a no-op.
// POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if h.bot.Stop() {
		h.logger.InfoContext(r.Context(), "bot stopped via api")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": runner.StatusStopped})
}

// GetScores returns the latest score per market.
// GET /api/scores
func (h *BotHandler) GetScores(w http.ResponseWriter, r *http.Request) {
	scores := h.scores.AllScores()
	if scores == nil {
		scores = map[string]domain.Score{}
	}
	writeJSON(w, http.StatusOK, scores)
}

// GetInsights returns the insights or JSON null.
// GET /api/insights
func (h *BotHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.insights.Insights())
}
