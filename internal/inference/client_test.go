package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"mcp-food-lens/internal/models"
)

const (
	testKey   = "AIzaSyTestKey0123456789abcdefghijk"
	testImage = "aGVsbG8gd29ybGQ="
	appleJSON = `{"is_food": true, "name": "Apple", "calories": 95, "protein": 0, "carbs": 25, "fats": 0, "confidence": "high"}`
)

type staticKey string

func (k staticKey) Get(context.Context) (string, error) { return string(k), nil }

type failingKey struct{}

func (failingKey) Get(context.Context) (string, error) { return "", errors.New("not found") }

// fakeGemini routes generateContent calls to per-model handlers and counts them.
type fakeGemini struct {
	mu       sync.Mutex
	calls    map[string]int
	bodies   map[string][]string
	handlers map[string]func(n int, w http.ResponseWriter)
}

func newFakeGemini() *fakeGemini {
	return &fakeGemini{
		calls:    make(map[string]int),
		bodies:   make(map[string][]string),
		handlers: make(map[string]func(n int, w http.ResponseWriter)),
	}
}

func (f *fakeGemini) handle(model string, h func(n int, w http.ResponseWriter)) {
	f.handlers[model] = h
}

func (f *fakeGemini) count(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

func (f *fakeGemini) body(model string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[model][i]
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/models/"), ":generateContent")
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls[model]++
	n := f.calls[model]
	f.bodies[model] = append(f.bodies[model], string(body))
	h := f.handlers[model]
	f.mu.Unlock()

	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(n, w)
}

func writeText(w http.ResponseWriter, text string) {
	resp := map[string]any{
		"candidates": []map[string]any{
			{
				"content":      map[string]any{"parts": []map[string]any{{"text": text}}},
				"finishReason": "STOP",
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string, creds CredentialSource, modelNames ...string) *Client {
	return NewClient(creds,
		WithBaseURL(baseURL),
		WithModels(modelNames...),
		WithRetryConfig(RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       time.Millisecond,
			BackoffMultiplier: 2,
			MaxBackoff:        5 * time.Millisecond,
		}),
		WithAttemptTimeout(2*time.Second),
		WithLogger(testLogger()),
	)
}

func TestAnalyze_FallsBackAfterServerErrors(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeStatus(w, 500, "internal") })
	fake.handle("model-b", func(_ int, w http.ResponseWriter) { writeText(w, appleJSON) })
	fake.handle("model-c", func(_ int, w http.ResponseWriter) { writeText(w, appleJSON) })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b", "model-c")
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsFood(), "outcome: %+v", got)
	assert.Equal(t, "Apple", got.Food.Name)
	assert.Equal(t, 95, got.Food.Calories)
	assert.Equal(t, 3, fake.count("model-a"))
	assert.Equal(t, 1, fake.count("model-b"))
	assert.Equal(t, 0, fake.count("model-c"))
}

func TestAnalyze_ClientErrorSkipsRemainingAttempts(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeStatus(w, 403, "permission denied") })
	fake.handle("model-b", func(_ int, w http.ResponseWriter) { writeText(w, appleJSON) })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsFood())
	assert.Equal(t, 1, fake.count("model-a"))
	assert.Equal(t, 1, fake.count("model-b"))
}

func TestAnalyze_RateLimitIsRetried(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(n int, w http.ResponseWriter) {
		if n < 3 {
			writeStatus(w, 429, "quota exceeded")
			return
		}
		writeText(w, appleJSON)
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsFood())
	assert.Equal(t, 3, fake.count("model-a"))
	assert.Equal(t, 0, fake.count("model-b"))
}

func TestAnalyze_EmptyAndMalformedPayloadsAreRetried(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(n int, w http.ResponseWriter) {
		switch n {
		case 1:
			writeText(w, "")
		case 2:
			writeText(w, "I cannot process this image.")
		default:
			writeText(w, "```json\n"+appleJSON+"\n```")
		}
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a")
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsFood())
	assert.Equal(t, 3, fake.count("model-a"))
}

func TestAnalyze_NotFoodIsFinal(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) {
		writeText(w, `{"is_food": false, "reason": "a laptop on a desk"}`)
	})
	fake.handle("model-b", func(_ int, w http.ResponseWriter) { writeText(w, appleJSON) })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	got := c.Analyze(context.Background(), testImage)

	assert.Equal(t, models.NotFoodOutcome("a laptop on a desk"), got)
	assert.Equal(t, 1, fake.count("model-a"))
	assert.Equal(t, 0, fake.count("model-b"))
}

func TestAnalyze_ExhaustionReportsLastError(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeStatus(w, 400, "bad image") })
	fake.handle("model-b", func(_ int, w http.ResponseWriter) { writeStatus(w, 403, "API key not valid") })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsError())
	assert.True(t, strings.HasPrefix(got.Message, "Analysis failed: "), got.Message)
	assert.Contains(t, got.Message, "API key not valid")
	assert.Contains(t, got.Message, "403")
	assert.Equal(t, 1, fake.count("model-a"))
	assert.Equal(t, 1, fake.count("model-b"))
}

func TestAnalyze_CredentialChecksHappenBeforeNetwork(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeText(w, appleJSON) })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	tests := []struct {
		name  string
		creds CredentialSource
		want  string
	}{
		{"no source", nil, ErrMissingCredential.Error()},
		{"lookup error", failingKey{}, ErrMissingCredential.Error()},
		{"empty key", staticKey(""), ErrMissingCredential.Error()},
		{"wrong prefix", staticKey("sk-0123456789012345678901234567890"), ErrMalformedCredential.Error()},
		{"too short", staticKey("AIzaShort"), ErrMalformedCredential.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(srv.URL, tt.creds, "model-a")
			got := c.Analyze(context.Background(), testImage)
			assert.Equal(t, models.ErrorOutcome(tt.want), got)
		})
	}
	assert.Equal(t, 0, fake.count("model-a"))
}

func TestAnalyze_RequestShape(t *testing.T) {
	var gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotQuery = r.URL.Query().Get("key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		writeText(w, appleJSON)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "gemini-2.5-flash")
	got := c.Analyze(context.Background(), testImage)
	require.True(t, got.IsFood())

	assert.Equal(t, testKey, gotQuery)
	assert.NotEmpty(t, gjson.Get(gotBody, "contents.0.parts.0.text").String())
	assert.Equal(t, "image/jpeg", gjson.Get(gotBody, "contents.0.parts.1.inline_data.mime_type").String())
	assert.Equal(t, testImage, gjson.Get(gotBody, "contents.0.parts.1.inline_data.data").String())
	assert.Equal(t, 0.4, gjson.Get(gotBody, "generationConfig.temperature").Float())
	assert.EqualValues(t, 4096, gjson.Get(gotBody, "generationConfig.maxOutputTokens").Int())
}

func TestAnalyze_TransportErrorsNeverLeakKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c := newTestClient(baseURL, staticKey(testKey), "model-a")
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsError())
	assert.True(t, strings.HasPrefix(got.Message, "Analysis failed: network request failed"), got.Message)
	assert.NotContains(t, got.Message, testKey)
}

func TestAnalyze_AttemptTimeoutIsRetryable(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("slow", func(_ int, w http.ResponseWriter) {
		time.Sleep(200 * time.Millisecond)
		writeText(w, appleJSON)
	})
	fake.handle("fast", func(_ int, w http.ResponseWriter) { writeText(w, appleJSON) })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(staticKey(testKey),
		WithBaseURL(srv.URL),
		WithModels("slow", "fast"),
		WithRetryConfig(RetryConfig{MaxAttempts: 1}),
		WithAttemptTimeout(20*time.Millisecond),
		WithLogger(testLogger()),
	)
	got := c.Analyze(context.Background(), testImage)

	require.True(t, got.IsFood())
	assert.Equal(t, 1, fake.count("fast"))
}

func TestAnalyze_CancelledContextStops(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeStatus(w, 500, "boom") })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	got := c.Analyze(ctx, testImage)

	require.True(t, got.IsError())
	assert.True(t, strings.HasPrefix(got.Message, "Analysis failed: "))
	assert.Equal(t, 0, fake.count("model-b"))
}

func TestSummarizeWeek(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeStatus(w, 503, "overloaded") })
	fake.handle("model-b", func(_ int, w http.ResponseWriter) { writeText(w, "  Solid protein all week. Add a vegetable at lunch.\n") })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	days := []models.DaySummary{
		{Date: "2026-10-15", Totals: models.Totals{Calories: 1800, Protein: 120}, MealCount: 3},
		{Date: "2026-10-16"},
	}

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	got, err := c.SummarizeWeek(context.Background(), days, models.DefaultGoals(), models.Profile{Name: "Sam", Goal: "maintain"})

	require.NoError(t, err)
	assert.Equal(t, "Solid protein all week. Add a vegetable at lunch.", got)
	assert.Equal(t, 1, fake.count("model-a"), "one attempt per model")

	body := fake.body("model-b", 0)
	assert.Equal(t, 0.7, gjson.Get(body, "generationConfig.temperature").Float())
	assert.EqualValues(t, 150, gjson.Get(body, "generationConfig.maxOutputTokens").Int())
	assert.False(t, gjson.Get(body, "contents.0.parts.1").Exists())
	prompt := gjson.Get(body, "contents.0.parts.0.text").String()
	assert.Contains(t, prompt, "2026-10-15: 3 meals, 1800 kcal")
	assert.Contains(t, prompt, "2026-10-16: nothing logged")
	assert.Contains(t, prompt, "name Sam")
}

func TestSummarizeWeek_AllModelsFail(t *testing.T) {
	fake := newFakeGemini()
	fake.handle("model-a", func(_ int, w http.ResponseWriter) { writeText(w, "") })
	fake.handle("model-b", func(_ int, w http.ResponseWriter) { writeStatus(w, 400, "bad request") })
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv.URL, staticKey(testKey), "model-a", "model-b")
	_, err := c.SummarizeWeek(context.Background(), nil, models.DefaultGoals(), models.Profile{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.True(t, IsFatal(err))
}

func TestSummarizeWeek_RequiresCredential(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", staticKey(""), "model-a")
	_, err := c.SummarizeWeek(context.Background(), nil, models.DefaultGoals(), models.Profile{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCalculateBackoff(t *testing.T) {
	c := NewClient(nil, WithRetryConfig(RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        300 * time.Millisecond,
	}))

	for i := 0; i < 20; i++ {
		first := c.calculateBackoff(1)
		assert.GreaterOrEqual(t, first, 75*time.Millisecond)
		assert.LessOrEqual(t, first, 125*time.Millisecond)

		capped := c.calculateBackoff(5)
		assert.GreaterOrEqual(t, capped, 225*time.Millisecond)
		assert.LessOrEqual(t, capped, 375*time.Millisecond)
	}
}
