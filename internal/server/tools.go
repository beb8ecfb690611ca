// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"mcp-food-lens/internal/analysis"
	"mcp-food-lens/internal/export"
	"mcp-food-lens/internal/models"
	"mcp-food-lens/internal/tracker"
)

type AnalyzeMealParams struct {
	ImageBase64 string `json:"image_base64" description:"Base64-encoded JPEG of the meal"`
	Log         bool   `json:"log,omitempty" description:"Log the meal when food is detected"`
	Date        string `json:"date,omitempty" description:"Day to log to (YYYY-MM-DD, defaults to today)"`
	MealType    string `json:"meal_type,omitempty" description:"breakfast, lunch, dinner or snack"`
	ImageURI    string `json:"image_uri,omitempty" description:"Where the photo is stored"`
}

type LogMealParams struct {
	Date        string  `json:"date,omitempty" description:"Day to log to (YYYY-MM-DD, defaults to today)"`
	Ticket      *uint64 `json:"ticket,omitempty" description:"Generation from analyze_meal; rejected if a newer analysis started"`
	Name        string  `json:"name" description:"Food name"`
	ServingSize string  `json:"serving_size,omitempty"`
	Calories    int     `json:"calories"`
	Protein     int     `json:"protein"`
	Carbs       int     `json:"carbs"`
	Fats        int     `json:"fats"`
	Fiber       *int    `json:"fiber,omitempty"`
	Confidence  string  `json:"confidence,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	MealType    string  `json:"meal_type,omitempty"`
	ImageURI    string  `json:"image_uri,omitempty"`
}

type UpdateMealParams struct {
	Date  string           `json:"date,omitempty"`
	ID    string           `json:"id" description:"Meal id"`
	Patch models.MealPatch `json:"patch" description:"Fields to change"`
}

type DeleteMealParams struct {
	Date string `json:"date,omitempty"`
	ID   string `json:"id" description:"Meal id"`
}

type AddWaterParams struct {
	Date string `json:"date,omitempty"`
	ML   int    `json:"ml" description:"Millilitres to add; negative undoes"`
}

type DateParams struct {
	Date string `json:"date,omitempty" description:"Day (YYYY-MM-DD, defaults to today)"`
}

type ExportDayParams struct {
	Date   string `json:"date,omitempty"`
	Format string `json:"format,omitempty" description:"text, json or pdf"`
}

type ResetParams struct {
	Confirm bool `json:"confirm" description:"Must be true"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return badRequest("failed to marshal arguments: %v", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return badRequest("invalid parameters: %v", err)
	}

	return nil
}

// resolveDay parses a YYYY-MM-DD date in the server clock's location.
func (s *FoodLensServer) resolveDay(date string) (time.Time, error) {
	now := s.now()
	if strings.TrimSpace(date) == "" {
		return now, nil
	}
	day, err := time.ParseInLocation(models.DayKeyLayout, strings.TrimSpace(date), now.Location())
	if err != nil {
		return time.Time{}, badRequest("invalid date %q, expected YYYY-MM-DD", date)
	}
	return day, nil
}

// analyzeResponse adds the user-facing not-food category to an analysis.
type analyzeResponse struct {
	Generation      uint64                   `json:"generation"`
	Outcome         models.AnalysisOutcome   `json:"outcome"`
	NotFoodCategory string                   `json:"not_food_category,omitempty"`
	NotFoodMessage  string                   `json:"not_food_message,omitempty"`
	Entry           *models.DailyLedgerEntry `json:"entry,omitempty"`
	Meal            *models.Meal             `json:"meal,omitempty"`
}

func (s *FoodLensServer) handleAnalyzeMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalyzeMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.ImageBase64) == "" {
		return nil, badRequest("image_base64 is required")
	}

	var resp analyzeResponse
	if params.Log {
		day, err := s.resolveDay(params.Date)
		if err != nil {
			return nil, err
		}
		res, err := s.tracker.AnalyzeAndLog(ctx, params.ImageBase64, day, models.ParseMealType(params.MealType), params.ImageURI)
		if err != nil {
			return nil, err
		}
		resp = analyzeResponse{Generation: res.Ticket.Generation, Outcome: res.Outcome, Entry: res.Entry, Meal: res.Meal}
	} else {
		ticket, outcome := s.tracker.Analyze(ctx, params.ImageBase64)
		resp = analyzeResponse{Generation: ticket.Generation, Outcome: outcome}
	}

	if resp.Outcome.IsNotFood() {
		category := analysis.ClassifyNotFood(resp.Outcome.Reason)
		resp.NotFoodCategory = string(category)
		resp.NotFoodMessage = category.Message()
	}
	return s.createJSONResponse(resp)
}

func (s *FoodLensServer) handleLogMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	day, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}

	draft := models.MealDraft{
		Record: models.NutritionRecord{
			Name:        strings.TrimSpace(params.Name),
			ServingSize: params.ServingSize,
			Calories:    params.Calories,
			Protein:     params.Protein,
			Carbs:       params.Carbs,
			Fats:        params.Fats,
			Fiber:       params.Fiber,
			Confidence:  models.ParseConfidence(params.Confidence),
			Notes:       params.Notes,
		},
		MealType: models.ParseMealType(params.MealType),
		ImageURI: params.ImageURI,
	}
	if err := draft.Record.Validate(); err != nil {
		return nil, badRequest("%v", err)
	}

	var (
		entry models.DailyLedgerEntry
		meal  models.Meal
	)
	if params.Ticket != nil {
		entry, meal, err = s.tracker.CommitFood(ctx, tracker.Ticket{Generation: *params.Ticket}, day, draft)
	} else {
		entry, meal, err = s.tracker.LogMeal(ctx, day, draft)
	}
	if err != nil {
		return nil, err
	}

	return s.createJSONResponse(map[string]interface{}{
		"entry": entry,
		"meal":  meal,
	})
}

func (s *FoodLensServer) handleUpdateMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UpdateMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, badRequest("meal id is required")
	}
	day, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}

	for field, v := range map[string]*int{
		"calories": params.Patch.Calories,
		"protein":  params.Patch.Protein,
		"carbs":    params.Patch.Carbs,
		"fats":     params.Patch.Fats,
		"fiber":    params.Patch.Fiber,
	} {
		if v != nil && *v < 0 {
			return nil, badRequest("%s must not be negative", field)
		}
	}

	entry, err := s.tracker.UpdateMeal(ctx, day, params.ID, params.Patch)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(entry)
}

func (s *FoodLensServer) handleDeleteMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DeleteMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, badRequest("meal id is required")
	}
	day, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}

	entry, err := s.tracker.DeleteMeal(ctx, day, params.ID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(entry)
}

func (s *FoodLensServer) handleAddWater(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AddWaterParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	day, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}

	entry, err := s.tracker.AddWater(ctx, day, params.ML)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(entry)
}

func (s *FoodLensServer) handleGetDay(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DateParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	day, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(s.tracker.Day(ctx, day))
}

func (s *FoodLensServer) handleGetWeek(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DateParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	end, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(s.tracker.Week(ctx, end))
}

func (s *FoodLensServer) handleListDays(ctx context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	days, err := s.tracker.LoggedDays(ctx)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string][]string{"days": days})
}

func (s *FoodLensServer) handleGetGoals(ctx context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	g, err := s.tracker.Goals(ctx)
	if err != nil {
		s.logger.Warn("Returning default goals", "error", err)
	}
	return s.createJSONResponse(map[string]interface{}{
		"goals":     g,
		"profile":   s.tracker.Profile(ctx),
		"onboarded": s.tracker.Onboarded(ctx),
	})
}

// handleSetGoals replaces the goals wholesale and, when given, the profile.
func (s *FoodLensServer) handleSetGoals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params struct {
		Goals   models.Goals    `json:"goals"`
		Profile *models.Profile `json:"profile,omitempty"`
	}
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	if err := s.tracker.SetGoals(ctx, params.Goals); err != nil {
		return nil, err
	}
	if params.Profile != nil {
		if err := s.tracker.SetProfile(ctx, *params.Profile); err != nil {
			return nil, err
		}
	}
	return s.createJSONResponse(map[string]interface{}{
		"goals":   params.Goals,
		"profile": s.tracker.Profile(ctx),
	})
}

func (s *FoodLensServer) handleSummarizeWeek(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DateParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	end, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}

	summary, err := s.tracker.SummarizeWeek(ctx, end)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]string{"summary": summary})
}

func (s *FoodLensServer) handleExportDay(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ExportDayParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	day, err := s.resolveDay(params.Date)
	if err != nil {
		return nil, err
	}

	var format export.Format
	if params.Format != "" {
		format = export.ParseFormat(params.Format)
	}
	location, err := s.tracker.Export(ctx, day, format)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]string{
		"date":     models.DayKey(day),
		"location": location,
	})
}

func (s *FoodLensServer) handleResetData(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ResetParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if !params.Confirm {
		return nil, badRequest("reset_data requires confirm=true")
	}
	if err := s.tracker.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset data: %w", err)
	}
	return s.createJSONResponse(map[string]bool{"reset": true})
}

func (s *FoodLensServer) registerTools() {
	s.tools = map[string]toolHandler{
		"analyze_meal":   s.handleAnalyzeMeal,
		"log_meal":       s.handleLogMeal,
		"update_meal":    s.handleUpdateMeal,
		"delete_meal":    s.handleDeleteMeal,
		"add_water":      s.handleAddWater,
		"get_day":        s.handleGetDay,
		"get_week":       s.handleGetWeek,
		"list_days":      s.handleListDays,
		"get_goals":      s.handleGetGoals,
		"set_goals":      s.handleSetGoals,
		"summarize_week": s.handleSummarizeWeek,
		"export_day":     s.handleExportDay,
		"reset_data":     s.handleResetData,
	}
}
