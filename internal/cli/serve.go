package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/mediashelf/mediashelf/internal/di"
	"github.com/mediashelf/mediashelf/internal/di/providers"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the device: HTTP API, peer listener and mDNS advertisement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			injector, err := rootOpts.container()
			if err != nil {
				return err
			}

			if err := di.Bootstrap(injector); err != nil {
				_ = injector.Shutdown()
				return fmt.Errorf("bootstrap: %w", err)
			}

			log := do.MustInvoke[*providers.LoggerHandle](injector)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info("Shutting down gracefully...")

			// The container shuts services down in reverse dependency order.
			if err := injector.Shutdown(); err != nil {
				log.Error("Shutdown error", "error", err)
			}
			return nil
		},
	}
}
