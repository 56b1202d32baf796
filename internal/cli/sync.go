package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/mediashelf/mediashelf/internal/di/providers"
	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/service"
	"github.com/mediashelf/mediashelf/internal/transport"
)

// NewPeersCommand creates the peers command.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List nearby devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(rootOpts, func(injector do.Injector) error {
				syncService, err := do.Invoke[*service.SyncService](injector)
				if err != nil {
					return err
				}
				peers, err := syncService.Peers(cmd.Context())
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(peers, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tNAME\tADDRESS\tVERSION")
					for _, p := range peers {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Address, orDash(p.Version))
					}
				})
			})
		},
	}
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Owner   string
	Library string
	Peer    string
	Address string
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync a shared library with a nearby device",
		Long: `Sync a shared library with a nearby device.

The peer is picked by --address, or by --peer matched against the id or
name of scanned devices. With neither, the only visible device is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(rootOpts, func(injector do.Injector) error {
				return runSync(cmd, rootOpts, opts, injector)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Library, "library", "", "local shared library id")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner starting the sync (default: library owner)")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "peer id or name")
	cmd.Flags().StringVar(&opts.Address, "address", "", "peer address (host:port or ws:// URL)")
	_ = cmd.MarkFlagRequired("library")
	cmd.MarkFlagsMutuallyExclusive("peer", "address")

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *SyncOptions, injector do.Injector) error {
	ctx := cmd.Context()

	syncService, err := do.Invoke[*service.SyncService](injector)
	if err != nil {
		return err
	}

	ownerID := opts.Owner
	if ownerID == "" {
		storeHandle, err := do.Invoke[*providers.StoreHandle](injector)
		if err != nil {
			return err
		}
		lib, err := storeHandle.GetLibrary(ctx, opts.Library)
		if err != nil {
			return domainerrors.NotFoundf("library %s not found", opts.Library)
		}
		ownerID = lib.OwnerID
	}

	peer, err := pickPeer(ctx, syncService, opts)
	if err != nil {
		return err
	}

	done, err := syncService.PerformSync(ctx, ownerID, opts.Library, peer)
	if err != nil {
		return err
	}

	return rootOpts.formatter(cmd).Print(done, func(w io.Writer) {
		fmt.Fprintf(w, "Synced with %s\n", peer.Name)
		fmt.Fprintf(w, "added\t%d\n", done.Added)
		fmt.Fprintf(w, "updated\t%d\n", done.Updated)
		fmt.Fprintf(w, "matched\t%d\n", done.Matched)
	})
}

// pickPeer resolves the sync target from the command flags.
func pickPeer(ctx context.Context, syncService *service.SyncService, opts *SyncOptions) (transport.PeerDevice, error) {
	if opts.Address != "" {
		return transport.PeerDevice{ID: opts.Address, Name: opts.Address, Address: opts.Address}, nil
	}

	peers, err := syncService.Peers(ctx)
	if err != nil {
		return transport.PeerDevice{}, err
	}

	if opts.Peer == "" {
		switch len(peers) {
		case 0:
			return transport.PeerDevice{}, domainerrors.NotFound("no nearby devices found")
		case 1:
			return peers[0], nil
		default:
			return transport.PeerDevice{}, domainerrors.Validationf("%d devices found, pick one with --peer", len(peers))
		}
	}

	for _, p := range peers {
		if p.ID == opts.Peer || strings.EqualFold(p.Name, opts.Peer) {
			return p, nil
		}
	}
	return transport.PeerDevice{}, domainerrors.NotFoundf("no nearby device matches %q", opts.Peer)
}
