package cli

import (
	"fmt"
	"io"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/mediashelf/mediashelf/internal/domain"
	"github.com/mediashelf/mediashelf/internal/service"
)

// withLibraries runs fn with the library service from a fresh container.
func withLibraries(rootOpts *RootOptions, fn func(libraries *service.LibraryService) error) error {
	return invoke(rootOpts, func(injector do.Injector) error {
		libraries, err := do.Invoke[*service.LibraryService](injector)
		if err != nil {
			return err
		}
		return fn(libraries)
	})
}

// NewOwnerCommand creates the owner command group.
func NewOwnerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage collection owners on this device",
	}

	var name, pin string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				owner, err := libraries.CreateOwner(cmd.Context(), name, pin)
				if err != nil {
					return err
				}
				out := owner.ForSync()
				return rootOpts.formatter(cmd).Print(out, func(w io.Writer) {
					fmt.Fprintf(w, "Created owner %s (%s)\n", out.DisplayName, out.OwnerID)
				})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&pin, "pin", "", "optional 4-8 digit PIN")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List owners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				owners, err := libraries.ListOwners(cmd.Context())
				if err != nil {
					return err
				}
				out := make([]domain.Owner, 0, len(owners))
				for _, o := range owners {
					out = append(out, o.ForSync())
				}
				return rootOpts.formatter(cmd).Print(out, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tNAME\tPIN")
					for _, o := range owners {
						fmt.Fprintf(w, "%s\t%s\t%t\n", o.OwnerID, o.DisplayName, o.HasPIN())
					}
				})
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

// NewLibraryCommand creates the library command group.
func NewLibraryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage libraries and sharing",
	}
	cmd.AddCommand(
		newLibraryCreateCommand(rootOpts),
		newLibraryShareCommand(rootOpts),
		newLibraryListCommand(rootOpts),
	)
	return cmd
}

func newLibraryCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var owner, name, description, icon string
	var shared bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				lib, err := libraries.CreateLibrary(cmd.Context(), owner, name, description, icon, shared)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(lib, func(w io.Writer) {
					fmt.Fprintf(w, "Created library %s (%s)\n", lib.Name, lib.LibraryID)
					if lib.IsShared() {
						fmt.Fprintf(w, "shared group\t%s\n", lib.GroupID())
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&name, "name", "", "library name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&icon, "icon", "", "icon name")
	cmd.Flags().BoolVar(&shared, "shared", false, "create the library in a new shared group")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newLibraryShareCommand(rootOpts *RootOptions) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "share <library-id>",
		Short: "Share a library, joining an existing group with --group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				lib, err := libraries.Share(cmd.Context(), args[0], group)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(lib, func(w io.Writer) {
					fmt.Fprintf(w, "Library %s is in shared group %s\n", lib.Name, lib.GroupID())
				})
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "shared group id to join (default: new group)")
	return cmd
}

func newLibraryListCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				libs, err := libraries.ListLibraries(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(libs, func(w io.Writer) {
					fmt.Fprintln(w, "ID\tNAME\tSHARED GROUP")
					for _, l := range libs {
						fmt.Fprintf(w, "%s\t%s\t%s\n", l.LibraryID, l.Name, orDash(l.GroupID()))
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// NewItemCommand creates the item command group.
func NewItemCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage collection items",
	}

	var (
		item         domain.CollectionItem
		mediaFormat  string
		workType     string
		year, season int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a copy to a library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			item.Format = domain.Format(mediaFormat)
			item.WorkType = domain.WorkType(workType)
			if cmd.Flags().Changed("year") {
				item.Year = domain.IntRef(year)
			}
			if cmd.Flags().Changed("season") {
				item.Season = domain.IntRef(season)
			}

			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				created, err := libraries.AddItem(cmd.Context(), &item)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(created, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s (%s) as %s\n", created.Title, intOrDash(created.Year), created.ItemID)
				})
			})
		},
	}

	flags := add.Flags()
	flags.StringVar(&item.LibraryID, "library", "", "library id")
	flags.StringVar(&item.OwnerID, "owner", "", "owner id (default: library owner)")
	flags.StringVar(&item.Title, "title", "", "title")
	flags.IntVar(&year, "year", 0, "release year")
	flags.IntVar(&season, "season", 0, "season number")
	flags.StringVar(&mediaFormat, "media-format", string(domain.FormatDVD), fmt.Sprintf("media format %v", domain.Formats()))
	flags.StringVar(&workType, "work-type", "", "movie, series, documentary or other (default: movie)")
	flags.StringVar(&item.Notes, "notes", "", "free-form notes")
	flags.StringVar(&item.Languages, "languages", "", "audio languages")
	flags.StringVar(&item.Subtitles, "subtitles", "", "subtitle languages")
	_ = add.MarkFlagRequired("library")
	_ = add.MarkFlagRequired("title")

	cmd.AddCommand(add)
	return cmd
}

// NewWorksCommand creates the works command.
func NewWorksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "works <shared-group-id>",
		Short: "Show every copy in a shared group, grouped by work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibraries(rootOpts, func(libraries *service.LibraryService) error {
				works, err := libraries.Works(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd).Print(works, func(w io.Writer) {
					fmt.Fprintln(w, "TITLE\tYEAR\tOWNER\tFORMAT")
					for _, work := range works {
						for _, c := range work.Copies {
							fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", work.Title, intOrDash(work.Year), c.OwnerName, c.Format)
						}
					}
				})
			})
		},
	}
}
