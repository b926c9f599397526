package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// newWatchCmd creates the 'watch' subcommand, which repeats the check flow on
// the stream's schedule until the request leaves the pending state.
func newWatchCmd(opts *rootOptions) *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Check the outstanding request on a schedule until it resolves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts, listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "address for the status and metrics server (overrides watch.listen_addr)")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *rootOptions, listenAddr string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, err := loadHarvestConfig(opts)
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	if listenAddr == "" {
		listenAddr = appInstance.GetConfig().Watch.ListenAddr
	}
	if listenAddr != "" {
		srv := &http.Server{
			Addr:              listenAddr,
			Handler:           appInstance.Handler(cfg.TableName()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting status server", zap.String("addr", listenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	out, err := appInstance.Watch(cmd.Context(), cfg)
	if errors.Is(err, context.Canceled) {
		logger.Info("Watch interrupted", zap.String("status", out.StatusLabel()))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Message)
	return err
}
