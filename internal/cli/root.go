// Package cli implements the mediashelf command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/di"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config config.Overrides
	Format string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mediashelf CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mediashelf",
		Short: "MediaShelf - shared physical media libraries",
		Long: `Track a physical media collection and merge shared libraries with
nearby devices, peer to peer, without a server.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the coded error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Config.EnvFile, "env-file", "", "path to a .env file")
	flags.StringVar(&opts.Config.Environment, "env", "", "environment (development|production)")
	flags.StringVar(&opts.Config.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.Config.LogFile, "log-file", "", "rotating JSON log file")
	flags.StringVar(&opts.Config.StorePath, "data", "", "data directory")
	flags.StringVar(&opts.Config.Backend, "backend", "", "record store backend (badger|sqlite)")
	flags.StringVar(&opts.Config.DeviceName, "device-name", "", "name advertised to peers")
	flags.StringVar(&opts.Config.OwnerID, "device-owner", "", "owner answering incoming syncs")
	flags.StringVar(&opts.Config.Port, "port", "", "HTTP listen port")
	flags.StringVar(&opts.Config.Transport, "transport", "", "peer transport (auto|network|loopback)")
	flags.StringVar(&opts.Config.ChunkSize, "chunk-size", "", "bytes per transport chunk")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPeersCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewOwnerCommand(opts))
	cmd.AddCommand(NewLibraryCommand(opts))
	cmd.AddCommand(NewItemCommand(opts))
	cmd.AddCommand(NewWorksCommand(opts))

	return cmd
}

// container loads configuration and builds the DI container. Callers own the
// returned scope and must shut it down.
func (o *RootOptions) container() (*do.RootScope, error) {
	cfg, err := config.LoadConfig(o.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return di.NewContainer(cfg), nil
}

// invoke runs fn with a freshly built container and shuts it down afterwards.
func invoke(opts *RootOptions, fn func(injector do.Injector) error) error {
	injector, err := opts.container()
	if err != nil {
		return err
	}
	defer func() { _ = injector.Shutdown() }()
	return fn(injector)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
