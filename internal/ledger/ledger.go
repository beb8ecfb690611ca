// Package ledger stores one DailyLedgerEntry per calendar day in a key/value
// store. Every mutation recomputes totals from the meal list before the whole
// entry is written back.
//
// Operations for one day are read-modify-write cycles and assume a single
// writer per day key.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mcp-food-lens/internal/metrics"
	"mcp-food-lens/internal/models"
	"mcp-food-lens/internal/storage"
)

// ErrSaveFailed is wrapped by every error from a failed write. The entry
// returned alongside it already holds the mutation.
var ErrSaveFailed = errors.New("failed to save ledger entry")

const (
	keyPrefix  = "ledger:"
	WindowDays = 7
)

// Key is the storage key of a calendar day.
func Key(day string) string {
	return keyPrefix + day
}

type Ledger struct {
	kv      storage.KV
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		l.newID = newID
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func New(kv storage.KV, opts ...Option) *Ledger {
	l := &Ledger{
		kv:     kv,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the entry for date's calendar day. A missing or unreadable
// entry yields an empty one; nothing is persisted.
func (l *Ledger) Load(ctx context.Context, date time.Time) models.DailyLedgerEntry {
	return l.LoadDay(ctx, models.DayKey(date))
}

// LoadDay is Load for an already formatted day key.
func (l *Ledger) LoadDay(ctx context.Context, day string) models.DailyLedgerEntry {
	raw, err := l.kv.Get(ctx, Key(day))
	if errors.Is(err, storage.ErrNotFound) {
		return models.EmptyEntry(day)
	}
	if err != nil {
		l.logger.Warn("Failed to read ledger entry", "day", day, "error", err)
		return models.EmptyEntry(day)
	}

	entry, err := decodeEntry(day, raw)
	if err != nil {
		l.logger.Warn("Discarding unreadable ledger entry", "day", day, "error", err)
		return models.EmptyEntry(day)
	}
	return entry
}

// LoadWeek returns the seven days ending at end's calendar day, oldest first.
func (l *Ledger) LoadWeek(ctx context.Context, end time.Time) []models.DailyLedgerEntry {
	week := make([]models.DailyLedgerEntry, 0, WindowDays)
	for i := WindowDays - 1; i >= 0; i-- {
		week = append(week, l.Load(ctx, end.AddDate(0, 0, -i)))
	}
	return week
}

// AddMeal commits draft as a new meal with a fresh id and the current time.
func (l *Ledger) AddMeal(ctx context.Context, entry models.DailyLedgerEntry, draft models.MealDraft) (models.DailyLedgerEntry, models.Meal, error) {
	if err := draft.Record.Validate(); err != nil {
		return entry, models.Meal{}, err
	}

	meal := models.Meal{
		NutritionRecord: draft.Record,
		ID:              l.newID(),
		Timestamp:       l.now(),
		MealType:        draft.MealType,
		ImageURI:        draft.ImageURI,
	}

	updated := entry.Clone()
	updated.Meals = append(updated.Meals, meal)
	updated.Recalculate()

	return updated, meal, l.save(ctx, updated)
}

// UpdateMeal applies patch to the meal with id. An unknown id is a no-op.
func (l *Ledger) UpdateMeal(ctx context.Context, entry models.DailyLedgerEntry, id string, patch models.MealPatch) (models.DailyLedgerEntry, error) {
	idx := indexOf(entry.Meals, id)
	if idx < 0 {
		return entry, nil
	}

	meal := applyPatch(entry.Meals[idx], patch)
	if err := meal.Validate(); err != nil {
		return entry, err
	}

	updated := entry.Clone()
	updated.Meals[idx] = meal
	updated.Recalculate()

	return updated, l.save(ctx, updated)
}

// DeleteMeal removes the meal with id. An unknown id is a no-op.
func (l *Ledger) DeleteMeal(ctx context.Context, entry models.DailyLedgerEntry, id string) (models.DailyLedgerEntry, error) {
	idx := indexOf(entry.Meals, id)
	if idx < 0 {
		return entry, nil
	}

	updated := entry.Clone()
	updated.Meals = append(updated.Meals[:idx], updated.Meals[idx+1:]...)
	updated.Recalculate()

	return updated, l.save(ctx, updated)
}

// AddWater adds ml to the day's water counter. Negative amounts undo earlier
// additions; the counter is not clamped here.
func (l *Ledger) AddWater(ctx context.Context, entry models.DailyLedgerEntry, ml int) (models.DailyLedgerEntry, error) {
	updated := entry.Clone()
	updated.WaterML += ml
	updated.Recalculate()

	return updated, l.save(ctx, updated)
}

// Reset deletes every stored day.
func (l *Ledger) Reset(ctx context.Context) error {
	n, err := l.kv.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	l.logger.Info("Ledger reset", "days_deleted", n)
	return nil
}

// Days lists the stored day keys in ascending order.
func (l *Ledger) Days(ctx context.Context) ([]string, error) {
	keys, err := l.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list ledger days: %w", err)
	}
	days := make([]string, 0, len(keys))
	for _, k := range keys {
		days = append(days, k[len(keyPrefix):])
	}
	return days, nil
}

func (l *Ledger) save(ctx context.Context, entry models.DailyLedgerEntry) error {
	if entry.Date == "" {
		return fmt.Errorf("%w: entry has no date", ErrSaveFailed)
	}

	raw, err := json.Marshal(entry)
	if err == nil {
		err = l.kv.Set(ctx, Key(entry.Date), raw)
	}
	l.metrics.LedgerWrite(err == nil)
	if err != nil {
		l.logger.Error("Failed to save ledger entry", "day", entry.Date, "error", err)
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

func indexOf(meals []models.Meal, id string) int {
	for i, m := range meals {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func applyPatch(m models.Meal, p models.MealPatch) models.Meal {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.ServingSize != nil {
		m.ServingSize = *p.ServingSize
	}
	if p.Calories != nil {
		m.Calories = *p.Calories
	}
	if p.Protein != nil {
		m.Protein = *p.Protein
	}
	if p.Carbs != nil {
		m.Carbs = *p.Carbs
	}
	if p.Fats != nil {
		m.Fats = *p.Fats
	}
	if p.Fiber != nil {
		fiber := *p.Fiber
		m.Fiber = &fiber
	}
	if p.Confidence != nil {
		m.Confidence = *p.Confidence
	}
	if p.Notes != nil {
		m.Notes = *p.Notes
	}
	if p.MealType != nil {
		m.MealType = *p.MealType
	}
	if p.ImageURI != nil {
		m.ImageURI = *p.ImageURI
	}
	if p.Timestamp != nil {
		m.Timestamp = *p.Timestamp
	}
	return m
}
