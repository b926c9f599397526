// Package cmd defines and implements the CLI commands for the ooi-harvest-request executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/app"
	"github.com/JakeFAU/ooi-harvest-request/internal/config"
	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/logging"
	"github.com/JakeFAU/ooi-harvest-request/internal/producer"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	Run(ctx context.Context, cfg harvest.HarvestConfig, dataCheck bool) (producer.Outcome, error)
	LoadStatus(ctx context.Context) (status.RequestStatus, error)
	Watch(ctx context.Context, cfg harvest.HarvestConfig) (producer.Outcome, error)
	Handler(tableName string) http.Handler
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context, settingsPath string) (App, error) {
	cfg, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	settingsPath      string
	harvestConfigPath string
	dataCheck         bool
	refresh           bool
	test              bool

	app App
}

// newRootCmd creates and configures the root command.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ooi-harvest-request",
		Short: "Request OOI stream data and check on outstanding requests.",
		Long: `ooi-harvest-request places a data request for one OOI stream, or with
--data-check, checks whether a previously placed request has finished.
The outcome is persisted to the response and status documents of the
stream harvest repository.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), opts.settingsPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.settingsPath, "config", "", "application settings file")
	flags.StringVar(&opts.harvestConfigPath, "harvest-config", "config.yaml", "stream harvest config file")
	cmd.Flags().BoolVar(&opts.dataCheck, "data-check", false, "check on the outstanding request instead of placing one")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "request the full stream range, ignoring existing data")
	cmd.Flags().BoolVar(&opts.test, "test", false, "limit the request window to one day")

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newStatusCmd())

	return cmd
}

func runHarvest(cmd *cobra.Command, opts *rootOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, err := loadHarvestConfig(opts)
	if err != nil {
		return err
	}
	out, err := appInstance.Run(cmd.Context(), cfg, opts.dataCheck)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Message)
	return err
}

func loadHarvestConfig(opts *rootOptions) (harvest.HarvestConfig, error) {
	cfg, err := harvest.LoadHarvestConfig(opts.harvestConfigPath)
	if err != nil {
		return harvest.HarvestConfig{}, err
	}
	return cfg.WithOverrides(opts.refresh, opts.test), nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	opts := &rootOptions{}
	err := newRootCmd(opts).ExecuteContext(ctx)
	stop()

	logger := zap.NewNop()
	if opts.app != nil {
		logger = opts.app.GetLogger()
	} else if fallback, ferr := logging.New(logging.Options{}); ferr == nil {
		logger = fallback
	}
	if err != nil {
		logger.Error("Command execution failed", zap.Error(err))
	}
	if opts.app != nil {
		opts.app.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
