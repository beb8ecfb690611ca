// cmd/food-lens/main.go
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mcp-food-lens/internal/config"
	"mcp-food-lens/internal/credential"
	"mcp-food-lens/internal/export"
	"mcp-food-lens/internal/goals"
	"mcp-food-lens/internal/inference"
	"mcp-food-lens/internal/ledger"
	"mcp-food-lens/internal/logging"
	"mcp-food-lens/internal/metrics"
	"mcp-food-lens/internal/models"
	"mcp-food-lens/internal/server"
	"mcp-food-lens/internal/storage"
	"mcp-food-lens/internal/tracker"
)

const appName = "food-lens"

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	dbPath     string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Photo-based meal logging with AI nutrition estimates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db-path", "", "Database path override")

	cmd.AddCommand(
		serveCmd(&flags),
		analyzeCmd(&flags),
		summaryCmd(&flags),
		exportCmd(&flags),
		credentialCmd(&flags),
		resetCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, server.Version)
			},
		},
	)
	return cmd
}

// app is the wired set of components shared by every command.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	storage     *storage.SQLiteStorage
	credentials *credential.EncryptedStore
	client      *inference.Client
	metrics     *metrics.Metrics
	tracker     *tracker.Tracker
}

func openApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}

	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	stor, err := storage.NewSQLiteStorage(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	passphrase := cfg.Credential.Passphrase
	if passphrase == "" {
		passphrase = hostPassphrase()
		logger.Warn("FOOD_LENS_PASSPHRASE not set, deriving credential key from host name")
	}
	creds, err := credential.NewEncryptedStore(stor, passphrase)
	if err != nil {
		stor.Close()
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	m := metrics.New()
	client := inference.NewClient(
		credential.WithEnvFallback(creds, cfg.Inference.APIKey),
		inference.WithBaseURL(cfg.Inference.BaseURL),
		inference.WithModels(cfg.Inference.Models...),
		inference.WithRetryConfig(inference.RetryConfig{
			MaxAttempts:       cfg.Inference.MaxAttempts,
			BackoffBase:       cfg.Inference.BackoffBase,
			BackoffMultiplier: inference.DefaultRetryConfig().BackoffMultiplier,
			MaxBackoff:        cfg.Inference.MaxBackoff,
		}),
		inference.WithAttemptTimeout(cfg.Inference.AttemptTimeout),
		inference.WithLogger(logger),
		inference.WithMetrics(m),
	)

	sharer, _, err := export.NewSharer(ctx, cfg.Export, logger)
	if err != nil {
		stor.Close()
		return nil, err
	}

	goalStore := goals.NewStore(stor, logger)
	if _, err := goalStore.EnsureDefaults(ctx); err != nil {
		logger.Warn("Failed to create default goals", "error", err)
	}

	t := tracker.New(client,
		ledger.New(stor, ledger.WithLogger(logger), ledger.WithMetrics(m)),
		goalStore,
		tracker.WithLogger(logger),
		tracker.WithSharer(sharer, export.ParseFormat(cfg.Export.Format)),
	)

	return &app{
		cfg:         cfg,
		logger:      logger,
		storage:     stor,
		credentials: creds,
		client:      client,
		metrics:     m,
		tracker:     t,
	}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("Failed to close storage", "error", err)
	}
}

func hostPassphrase() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return appName + ":" + host
}

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tool endpoint over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}
			a.logger.Info("Inference configured", "models", a.client.Models())
			srv := server.NewFoodLensServer(a.tracker, cfg,
				server.WithMetrics(a.metrics),
				server.WithLogger(a.logger))

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("Received shutdown signal")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			}

			a.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address override")
	return cmd
}

func analyzeCmd(flags *globalFlags) *cobra.Command {
	var (
		logIt    bool
		date     string
		mealType string
	)

	cmd := &cobra.Command{
		Use:   "analyze <image.jpg>",
		Short: "Estimate nutrition for a meal photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			day, err := parseDay(date)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			img := base64.StdEncoding.EncodeToString(raw)
			if !logIt {
				_, outcome := a.tracker.Analyze(cmd.Context(), img)
				return printJSON(outcome)
			}
			res, err := a.tracker.AnalyzeAndLog(cmd.Context(), img, day, models.ParseMealType(mealType), args[0])
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().BoolVar(&logIt, "log", false, "Log the meal when food is detected")
	cmd.Flags().StringVar(&date, "date", "", "Day to log to (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&mealType, "meal-type", "", "breakfast, lunch, dinner or snack")
	return cmd
}

func summaryCmd(flags *globalFlags) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Write a coaching summary of the last seven days",
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parseDay(date)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.tracker.SummarizeWeek(cmd.Context(), end)
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Last day of the week (YYYY-MM-DD, defaults to today)")
	return cmd
}

func exportCmd(flags *globalFlags) *cobra.Command {
	var date, format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one day's meals and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var f export.Format
			if format != "" {
				f = export.ParseFormat(format)
			}
			location, err := a.tracker.Export(cmd.Context(), day, f)
			if err != nil {
				return err
			}
			fmt.Println(location)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Day to export (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&format, "format", "", "text, json or pdf (defaults to config)")
	return cmd
}

func credentialCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the stored inference API key",
	}

	var skipValidate bool
	set := &cobra.Command{
		Use:   "set [api-key]",
		Short: "Validate and store the API key, prompting when it is not given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				var err error
				if key, err = promptSecret(os.Stderr, "API key: "); err != nil {
					return fmt.Errorf("read API key: %w", err)
				}
			}

			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if skipValidate {
				err = inference.ValidateFormat(key)
			} else {
				err = a.client.ValidateCredential(cmd.Context(), key)
			}
			if err != nil {
				return fmt.Errorf("API key rejected: %w", err)
			}
			if err := a.credentials.Set(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Println("API key saved.")
			return nil
		},
	}
	set.Flags().BoolVar(&skipValidate, "skip-validate", false, "Only check the key format")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the stored API key against the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := credential.WithEnvFallback(a.credentials, a.cfg.Inference.APIKey).Get(cmd.Context())
			if errors.Is(err, credential.ErrNotFound) {
				return inference.ErrMissingCredential
			}
			if err != nil {
				return err
			}
			if err := a.client.ValidateCredential(cmd.Context(), key); err != nil {
				return fmt.Errorf("API key rejected: %w", err)
			}
			fmt.Println("API key is valid.")
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.credentials.Delete(cmd.Context())
		},
	}

	cmd.AddCommand(set, validate, del)
	return cmd
}

func resetCmd(flags *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all logged meals, goals and profile data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tracker.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("All data cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

// parseDay reads YYYY-MM-DD in local time; empty means today.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	day, err := time.ParseInLocation(models.DayKeyLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return day, nil
}

// readPassword is swapped in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

// promptSecret reads a line from stdin without echo.
func promptSecret(w io.Writer, prompt string) (string, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	raw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
