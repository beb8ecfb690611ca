package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-food-lens/internal/config"
	"mcp-food-lens/internal/export"
	"mcp-food-lens/internal/goals"
	"mcp-food-lens/internal/ledger"
	"mcp-food-lens/internal/metrics"
	"mcp-food-lens/internal/models"
	"mcp-food-lens/internal/storage"
	"mcp-food-lens/internal/tracker"
)

var today = time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC)

type stubAnalyzer struct {
	outcome models.AnalysisOutcome
}

func (s *stubAnalyzer) Analyze(context.Context, string) models.AnalysisOutcome {
	return s.outcome
}

func (s *stubAnalyzer) SummarizeWeek(context.Context, []models.DaySummary, models.Goals, models.Profile) (string, error) {
	return "Solid week.", nil
}

type testEnv struct {
	handler  http.Handler
	metrics  *metrics.Metrics
	analyzer *stubAnalyzer
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return today }
	kv := storage.NewMemoryStorage()
	a := &stubAnalyzer{outcome: models.FoodOutcome(models.NutritionRecord{
		Name: "Ramen", Calories: 550, Protein: 20, Carbs: 70, Fats: 18, Confidence: models.MediumConfidence,
	})}

	tr := tracker.New(a,
		ledger.New(kv, ledger.WithClock(clock), ledger.WithLogger(logger)),
		goals.NewStore(kv, logger),
		tracker.WithClock(clock),
		tracker.WithLogger(logger),
		tracker.WithSharer(export.NewFileSharer(t.TempDir()), export.FormatText),
	)

	m := metrics.New()
	s := NewFoodLensServer(tr, cfg, WithMetrics(m), WithLogger(logger), WithClock(clock))
	return &testEnv{handler: s.Handler(), metrics: m, analyzer: a}
}

func (e *testEnv) call(t *testing.T, tool string, args map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"name": tool, "arguments": args})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// decodeResult unwraps the single text content of a tool result into v.
func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), v))
}

func TestLogMealAndGetDay(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.call(t, "log_meal", map[string]interface{}{
		"name": "Oatmeal", "calories": 300, "protein": 10, "carbs": 54, "fats": 6, "meal_type": "Breakfast",
	})
	var logged struct {
		Entry models.DailyLedgerEntry `json:"entry"`
		Meal  models.Meal             `json:"meal"`
	}
	decodeResult(t, rec, &logged)
	assert.Equal(t, "2026-10-16", logged.Entry.Date)
	assert.Equal(t, models.Breakfast, logged.Meal.MealType)
	assert.Equal(t, models.MediumConfidence, logged.Meal.Confidence)
	assert.NotEmpty(t, logged.Meal.ID)

	var view tracker.DayView
	decodeResult(t, env.call(t, "get_day", nil), &view)
	require.Len(t, view.Entry.Meals, 1)
	assert.Equal(t, 300, view.Entry.Calories)
	assert.Equal(t, models.DefaultGoals(), view.Goals)
}

func TestLogMeal_RejectsInvalidRecord(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.call(t, "log_meal", map[string]interface{}{"name": "  ", "calories": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.call(t, "log_meal", map[string]interface{}{"name": "Toast", "calories": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.call(t, "log_meal", map[string]interface{}{"name": "Toast", "date": "16/10/2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeMeal(t *testing.T) {
	t.Run("log food", func(t *testing.T) {
		env := newTestEnv(t, config.ServerConfig{})

		var resp analyzeResponse
		decodeResult(t, env.call(t, "analyze_meal", map[string]interface{}{
			"image_base64": "aGVsbG8=", "log": true, "meal_type": "lunch",
		}), &resp)

		assert.Equal(t, models.OutcomeFood, resp.Outcome.Kind)
		require.NotNil(t, resp.Meal)
		assert.Equal(t, "Ramen", resp.Meal.Name)
		assert.Equal(t, models.Lunch, resp.Meal.MealType)
		assert.Equal(t, 550, resp.Entry.Calories)
	})

	t.Run("not food gets a category", func(t *testing.T) {
		env := newTestEnv(t, config.ServerConfig{})
		env.analyzer.outcome = models.NotFoodOutcome("The image shows a sleeping cat.")

		var resp analyzeResponse
		decodeResult(t, env.call(t, "analyze_meal", map[string]interface{}{
			"image_base64": "aGVsbG8=", "log": true,
		}), &resp)

		assert.Equal(t, models.OutcomeNotFood, resp.Outcome.Kind)
		assert.Equal(t, "animal", resp.NotFoodCategory)
		assert.NotEmpty(t, resp.NotFoodMessage)
		assert.Nil(t, resp.Entry)
	})

	t.Run("missing image", func(t *testing.T) {
		env := newTestEnv(t, config.ServerConfig{})
		rec := env.call(t, "analyze_meal", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnalyzeThenCommit_StaleTicketConflicts(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	var first, second analyzeResponse
	decodeResult(t, env.call(t, "analyze_meal", map[string]interface{}{"image_base64": "YQ=="}), &first)
	decodeResult(t, env.call(t, "analyze_meal", map[string]interface{}{"image_base64": "Yg=="}), &second)

	meal := map[string]interface{}{"name": "Ramen", "calories": 550, "ticket": first.Generation}
	rec := env.call(t, "log_meal", meal)
	assert.Equal(t, http.StatusConflict, rec.Code)

	meal["ticket"] = second.Generation
	rec = env.call(t, "log_meal", meal)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUpdateDeleteAndWater(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	var logged struct {
		Meal models.Meal `json:"meal"`
	}
	decodeResult(t, env.call(t, "log_meal", map[string]interface{}{"name": "Apple", "calories": 95, "carbs": 25}), &logged)

	var entry models.DailyLedgerEntry
	decodeResult(t, env.call(t, "update_meal", map[string]interface{}{
		"id": logged.Meal.ID, "patch": map[string]interface{}{"calories": 80},
	}), &entry)
	assert.Equal(t, 80, entry.Calories)

	rec := env.call(t, "update_meal", map[string]interface{}{
		"id": logged.Meal.ID, "patch": map[string]interface{}{"fats": -3},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	decodeResult(t, env.call(t, "add_water", map[string]interface{}{"ml": 300}), &entry)
	assert.Equal(t, 300, entry.WaterML)
	decodeResult(t, env.call(t, "add_water", map[string]interface{}{"ml": -1000}), &entry)
	assert.Equal(t, 0, entry.WaterML)

	decodeResult(t, env.call(t, "delete_meal", map[string]interface{}{"id": logged.Meal.ID}), &entry)
	assert.Empty(t, entry.Meals)
	assert.Zero(t, entry.Calories)

	var listed map[string][]string
	decodeResult(t, env.call(t, "list_days", nil), &listed)
	assert.Equal(t, []string{"2026-10-16"}, listed["days"])
}

func TestGoals(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.call(t, "set_goals", map[string]interface{}{
		"goals": map[string]interface{}{"calories": 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var got struct {
		Goals   models.Goals   `json:"goals"`
		Profile models.Profile `json:"profile"`
	}
	decodeResult(t, env.call(t, "set_goals", map[string]interface{}{
		"goals":   map[string]interface{}{"calories": 1800, "protein": 120, "carbs": 180, "fats": 60, "water_ml": 2000},
		"profile": map[string]interface{}{"name": "Sam"},
	}), &got)
	assert.Equal(t, 1800, got.Goals.Calories)
	assert.Equal(t, "Sam", got.Profile.Name)

	decodeResult(t, env.call(t, "get_goals", nil), &got)
	assert.Equal(t, models.Goals{Calories: 1800, Protein: 120, Carbs: 180, Fats: 60, WaterML: 2000}, got.Goals)
}

func TestWeekSummaryExportReset(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	var week []models.DaySummary
	decodeResult(t, env.call(t, "get_week", map[string]interface{}{"date": "2026-10-16"}), &week)
	require.Len(t, week, 7)
	assert.Equal(t, "2026-10-10", week[0].Date)
	assert.Equal(t, "2026-10-16", week[6].Date)

	var summary map[string]string
	decodeResult(t, env.call(t, "summarize_week", nil), &summary)
	assert.Equal(t, "Solid week.", summary["summary"])

	var exported map[string]string
	decodeResult(t, env.call(t, "export_day", map[string]interface{}{"format": "json"}), &exported)
	assert.Equal(t, "2026-10-16", exported["date"])
	assert.True(t, strings.HasSuffix(exported["location"], ".json"))

	rec := env.call(t, "reset_data", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var reset map[string]bool
	decodeResult(t, env.call(t, "reset_data", map[string]interface{}{"confirm": true}), &reset)
	assert.True(t, reset["reset"])
}

func TestHandleHTTP_Errors(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{MaxBodyBytes: 256})

	rec := env.call(t, "calculate_carbs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"name":"analyze_meal","arguments":{"image_base64":"` + strings.Repeat("A", 1024) + `"}}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{RateLimitEnabled: true, RateLimitRPS: 0.001, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, env.call(t, "get_goals", nil).Code)

	rec := env.call(t, "get_goals", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health and metrics are not limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	health := httptest.NewRecorder()
	env.handler.ServeHTTP(health, req)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"status":"ok"`)
	assert.Contains(t, health.Body.String(), "analyze_meal")

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	scrape := httptest.NewRecorder()
	env.handler.ServeHTTP(scrape, req)
	assert.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(), "food_lens_rate_limited_requests_total 1")
	assert.Contains(t, scrape.Body.String(), `food_lens_tool_calls_total{status="ok",tool="get_goals"} 1`)
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", extractIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", extractIP(req))
}
