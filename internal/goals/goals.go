// Package goals persists the daily nutrition targets and the onboarding flag.
package goals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"mcp-food-lens/internal/coerce"
	"mcp-food-lens/internal/models"
	"mcp-food-lens/internal/storage"
)

// ErrInvalidGoals wraps validation failures from Save.
var ErrInvalidGoals = errors.New("invalid goals")

const (
	goalsKey     = "goals"
	onboardedKey = "onboarding_complete"
	profileKey   = "profile"
)

type Store struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewStore(kv storage.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// Load returns the stored goals, or the defaults when none are stored.
// Unreadable fields fall back to their default value individually.
func (s *Store) Load(ctx context.Context) (models.Goals, error) {
	raw, err := s.kv.Get(ctx, goalsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return models.DefaultGoals(), nil
	}
	if err != nil {
		return models.DefaultGoals(), fmt.Errorf("read goals: %w", err)
	}
	return decodeGoals(raw, s.logger), nil
}

// EnsureDefaults writes the default goals on first run and reports whether
// it did.
func (s *Store) EnsureDefaults(ctx context.Context) (bool, error) {
	_, err := s.kv.Get(ctx, goalsKey)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("read goals: %w", err)
	}
	if err := s.Save(ctx, models.DefaultGoals()); err != nil {
		return false, err
	}
	s.logger.Info("Created default goals")
	return true, nil
}

// Save validates g and overwrites the stored goals wholesale.
func (s *Store) Save(ctx context.Context, g models.Goals) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGoals, err)
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode goals: %w", err)
	}
	if err := s.kv.Set(ctx, goalsKey, raw); err != nil {
		return fmt.Errorf("save goals: %w", err)
	}
	return nil
}

func (s *Store) Onboarded(ctx context.Context) (bool, error) {
	raw, err := s.kv.Get(ctx, onboardedKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read onboarding flag: %w", err)
	}
	return string(raw) == "true", nil
}

func (s *Store) SetOnboarded(ctx context.Context, done bool) error {
	value := "false"
	if done {
		value = "true"
	}
	if err := s.kv.Set(ctx, onboardedKey, []byte(value)); err != nil {
		return fmt.Errorf("save onboarding flag: %w", err)
	}
	return nil
}

// Profile returns the stored user profile; a missing or unreadable record
// is an empty profile.
func (s *Store) Profile(ctx context.Context) models.Profile {
	var p models.Profile
	raw, err := s.kv.Get(ctx, profileKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to read profile", "error", err)
		}
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("Discarding unreadable profile", "error", err)
		return models.Profile{}
	}
	return p
}

func (s *Store) SaveProfile(ctx context.Context, p models.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.kv.Set(ctx, profileKey, raw); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Reset removes goals, profile and the onboarding flag.
func (s *Store) Reset(ctx context.Context) error {
	for _, key := range []string{goalsKey, profileKey, onboardedKey} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
	}
	return nil
}

func decodeGoals(raw []byte, logger *slog.Logger) models.Goals {
	g := models.DefaultGoals()

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn("Discarding unreadable goals", "error", err)
		return g
	}

	fields := []struct {
		key string
		dst *int
	}{
		{"calories", &g.Calories},
		{"protein", &g.Protein},
		{"carbs", &g.Carbs},
		{"fats", &g.Fats},
		{"water_ml", &g.WaterML},
	}
	for _, f := range fields {
		if n, ok := coerce.Number(doc[f.key]); ok {
			*f.dst = n
		}
	}
	if g.Calories == 0 {
		g.Calories = models.DefaultGoals().Calories
	}
	return g
}
