// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"mcp-food-lens/internal/config"
	"mcp-food-lens/internal/goals"
	"mcp-food-lens/internal/inference"
	"mcp-food-lens/internal/metrics"
	"mcp-food-lens/internal/models"
	"mcp-food-lens/internal/tracker"
)

const Version = "1.0.0"

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type FoodLensServer struct {
	tracker    *tracker.Tracker
	httpServer *http.Server
	tools      map[string]toolHandler
	info       protocol.Implementation
	config     config.ServerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*FoodLensServer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FoodLensServer) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *FoodLensServer) {
		s.logger = logger
	}
}

// WithClock sets the clock used to resolve a missing date argument.
func WithClock(now func() time.Time) Option {
	return func(s *FoodLensServer) {
		s.now = now
	}
}

func NewFoodLensServer(t *tracker.Tracker, cfg config.ServerConfig, opts ...Option) *FoodLensServer {
	s := &FoodLensServer{
		tracker: t,
		info: protocol.Implementation{
			Name:    "food-lens",
			Version: Version,
		},
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler routes tool calls, health checks and metrics. Only tool calls are
// rate limited.
func (s *FoodLensServer) Handler() http.Handler {
	mux := http.NewServeMux()

	var tools http.Handler = http.HandlerFunc(s.handleHTTP)
	if s.config.RateLimitEnabled {
		tools = RateLimitMiddleware(s.config.RateLimitRPS, s.config.RateLimitBurst, s.metrics, tools)
	}
	mux.Handle("/", tools)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *FoodLensServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown tool: %s", request.Name))
		return
	}

	start := time.Now()
	result, err := handler(r.Context(), &request)
	s.metrics.ToolCall(request.Name, err == nil)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("Tool call failed", "tool", request.Name, "error", err)
		} else {
			s.logger.Info("Tool call rejected", "tool", request.Name, "status", status, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Debug("Tool call complete", "tool", request.Name, "duration", time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warn("Failed to encode response", "tool", request.Name, "error", err)
	}
}

func (s *FoodLensServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"name":    s.info.Name,
		"version": s.info.Version,
		"tools":   names,
	})
}

func (s *FoodLensServer) Start(ctx context.Context) error {
	s.logger.Info("Starting food lens server", "addr", s.httpServer.Addr, "tools", len(s.tools))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *FoodLensServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// toolError carries the HTTP status for a rejected call.
type toolError struct {
	status int
	msg    string
}

func (e *toolError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &toolError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func statusFor(err error) int {
	var te *toolError
	switch {
	case errors.As(err, &te):
		return te.status
	case errors.Is(err, tracker.ErrStaleOutcome):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidRecord), errors.Is(err, goals.ErrInvalidGoals):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrMissingCredential), errors.Is(err, inference.ErrMalformedCredential):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": msg,
		},
	})
}

func (s *FoodLensServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
