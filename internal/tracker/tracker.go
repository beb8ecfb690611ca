// Package tracker drives the nutrition core on behalf of a front end. It owns
// the mutable application state (the analysis generation counter) and passes
// explicit days and values into the ledger, goal store and inference client.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mcp-food-lens/internal/export"
	"mcp-food-lens/internal/goals"
	"mcp-food-lens/internal/ledger"
	"mcp-food-lens/internal/models"
)

// ErrStaleOutcome is returned when an analysis outcome is applied after a
// newer analysis started, or after the ticket was cancelled or committed.
var ErrStaleOutcome = errors.New("analysis outcome is no longer current")

type Analyzer interface {
	Analyze(ctx context.Context, imageBase64 string) models.AnalysisOutcome
	SummarizeWeek(ctx context.Context, days []models.DaySummary, goals models.Goals, profile models.Profile) (string, error)
}

// Ticket identifies one analysis request.
type Ticket struct {
	Generation uint64 `json:"generation"`
}

type Tracker struct {
	analyzer Analyzer
	ledger   *ledger.Ledger
	goals    *goals.Store
	sharer   export.Sharer
	format   export.Format
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	settled    bool
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithSharer(s export.Sharer, f export.Format) Option {
	return func(t *Tracker) {
		t.sharer = s
		t.format = f
	}
}

func New(analyzer Analyzer, l *ledger.Ledger, g *goals.Store, opts ...Option) *Tracker {
	t := &Tracker{
		analyzer: analyzer,
		ledger:   l,
		goals:    g,
		format:   export.FormatText,
		now:      time.Now,
		logger:   slog.Default(),
		settled:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sharer == nil {
		t.sharer = export.NewFileSharer("")
	}
	return t
}

// BeginAnalysis starts a new analysis generation, invalidating any earlier
// ticket.
func (t *Tracker) BeginAnalysis() Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.settled = false
	return Ticket{Generation: t.generation}
}

// Cancel invalidates ticket if it is still the current one.
func (t *Tracker) Cancel(ticket Ticket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket.Generation == t.generation {
		t.settled = true
	}
}

// IsCurrent reports whether an outcome for ticket may still be applied.
func (t *Tracker) IsCurrent(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ticket.Generation == t.generation && !t.settled
}

// settle marks ticket as consumed. It fails if ticket is not current.
func (t *Tracker) settle(ticket Ticket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket.Generation != t.generation || t.settled {
		return ErrStaleOutcome
	}
	t.settled = true
	return nil
}

// Analyze starts a new generation and runs one image analysis.
func (t *Tracker) Analyze(ctx context.Context, imageBase64 string) (Ticket, models.AnalysisOutcome) {
	ticket := t.BeginAnalysis()
	outcome := t.analyzer.Analyze(ctx, imageBase64)
	t.logger.Info("Analysis finished", "generation", ticket.Generation, "kind", outcome.Kind)
	return ticket, outcome
}

// CommitFood logs the record of a Food outcome to day, provided ticket is
// still current. A ticket can be committed once.
func (t *Tracker) CommitFood(ctx context.Context, ticket Ticket, day time.Time, draft models.MealDraft) (models.DailyLedgerEntry, models.Meal, error) {
	if err := t.settle(ticket); err != nil {
		t.logger.Info("Discarding stale analysis outcome", "generation", ticket.Generation)
		return models.DailyLedgerEntry{}, models.Meal{}, err
	}
	return t.ledger.AddMeal(ctx, t.ledger.Load(ctx, day), draft)
}

// AnalysisResult is the outcome of AnalyzeAndLog.
type AnalysisResult struct {
	Ticket  Ticket                   `json:"ticket"`
	Outcome models.AnalysisOutcome   `json:"outcome"`
	Entry   *models.DailyLedgerEntry `json:"entry,omitempty"`
	Meal    *models.Meal             `json:"meal,omitempty"`
}

// AnalyzeAndLog analyzes the image and, when it shows food, logs it to day.
// The ledger is only touched for Food outcomes.
func (t *Tracker) AnalyzeAndLog(ctx context.Context, imageBase64 string, day time.Time, mealType models.MealType, imageURI string) (AnalysisResult, error) {
	ticket, outcome := t.Analyze(ctx, imageBase64)
	res := AnalysisResult{Ticket: ticket, Outcome: outcome}
	if !outcome.IsFood() {
		t.Cancel(ticket)
		return res, nil
	}

	entry, meal, err := t.CommitFood(ctx, ticket, day, models.MealDraft{
		Record:   *outcome.Food,
		MealType: mealType,
		ImageURI: imageURI,
	})
	if errors.Is(err, ErrStaleOutcome) {
		return res, err
	}
	res.Entry = &entry
	res.Meal = &meal
	return res, err
}

// DayView is a day's entry with the goals it is measured against.
type DayView struct {
	Entry models.DailyLedgerEntry `json:"entry"`
	Goals models.Goals            `json:"goals"`
}

// Day falls back to default goals when they cannot be read.
func (t *Tracker) Day(ctx context.Context, day time.Time) DayView {
	return DayView{Entry: t.ledger.Load(ctx, day), Goals: t.loadGoals(ctx)}
}

func (t *Tracker) Today(ctx context.Context) DayView {
	return t.Day(ctx, t.now())
}

func (t *Tracker) loadGoals(ctx context.Context) models.Goals {
	g, err := t.goals.Load(ctx)
	if err != nil {
		t.logger.Warn("Using default goals", "error", err)
	}
	return g
}

// Week returns per-day summaries for the seven days ending at end.
func (t *Tracker) Week(ctx context.Context, end time.Time) []models.DaySummary {
	week := t.ledger.LoadWeek(ctx, end)
	out := make([]models.DaySummary, 0, len(week))
	for _, e := range week {
		out = append(out, models.SummarizeDay(e))
	}
	return out
}

// LoggedDays lists the day keys that have a stored entry, oldest first.
func (t *Tracker) LoggedDays(ctx context.Context) ([]string, error) {
	return t.ledger.Days(ctx)
}

func (t *Tracker) LogMeal(ctx context.Context, day time.Time, draft models.MealDraft) (models.DailyLedgerEntry, models.Meal, error) {
	return t.ledger.AddMeal(ctx, t.ledger.Load(ctx, day), draft)
}

func (t *Tracker) UpdateMeal(ctx context.Context, day time.Time, id string, patch models.MealPatch) (models.DailyLedgerEntry, error) {
	return t.ledger.UpdateMeal(ctx, t.ledger.Load(ctx, day), id, patch)
}

func (t *Tracker) DeleteMeal(ctx context.Context, day time.Time, id string) (models.DailyLedgerEntry, error) {
	return t.ledger.DeleteMeal(ctx, t.ledger.Load(ctx, day), id)
}

// AddWater adds ml to day's water, clamping the running total at zero.
func (t *Tracker) AddWater(ctx context.Context, day time.Time, ml int) (models.DailyLedgerEntry, error) {
	entry := t.ledger.Load(ctx, day)
	if entry.WaterML+ml < 0 {
		ml = -entry.WaterML
	}
	return t.ledger.AddWater(ctx, entry, ml)
}

func (t *Tracker) Goals(ctx context.Context) (models.Goals, error) {
	return t.goals.Load(ctx)
}

// SetGoals saves g and marks onboarding complete.
func (t *Tracker) SetGoals(ctx context.Context, g models.Goals) error {
	if err := t.goals.Save(ctx, g); err != nil {
		return err
	}
	return t.goals.SetOnboarded(ctx, true)
}

// Onboarded reports false when the flag cannot be read.
func (t *Tracker) Onboarded(ctx context.Context) bool {
	done, err := t.goals.Onboarded(ctx)
	if err != nil {
		t.logger.Warn("Failed to read onboarding flag", "error", err)
	}
	return done
}

func (t *Tracker) Profile(ctx context.Context) models.Profile {
	return t.goals.Profile(ctx)
}

func (t *Tracker) SetProfile(ctx context.Context, p models.Profile) error {
	return t.goals.SaveProfile(ctx, p)
}

// SummarizeWeek asks the analyzer for a coaching paragraph about the seven
// days ending at end.
func (t *Tracker) SummarizeWeek(ctx context.Context, end time.Time) (string, error) {
	return t.analyzer.SummarizeWeek(ctx, t.Week(ctx, end), t.loadGoals(ctx), t.goals.Profile(ctx))
}

// Export renders day with the goals and hands it to the configured sharer.
// An empty format uses the tracker default.
func (t *Tracker) Export(ctx context.Context, day time.Time, format export.Format) (string, error) {
	if format == "" {
		format = t.format
	}
	view := t.Day(ctx, day)
	doc := export.Build(view.Entry, view.Goals, t.now())

	data, err := export.Render(doc, format)
	if err != nil {
		return "", fmt.Errorf("render export: %w", err)
	}
	location, err := t.sharer.Share(ctx, doc.FileName(format), data, format.ContentType())
	if err != nil {
		return "", fmt.Errorf("share export: %w", err)
	}
	t.logger.Info("Exported day", "day", doc.Date, "format", format, "location", location)
	return location, nil
}

// Reset deletes every ledger day, the goals, the profile and the onboarding
// flag, then recreates the default goals.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.ledger.Reset(ctx); err != nil {
		return err
	}
	if err := t.goals.Reset(ctx); err != nil {
		return err
	}
	if _, err := t.goals.EnsureDefaults(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	t.generation++
	t.settled = true
	t.mu.Unlock()
	return nil
}
