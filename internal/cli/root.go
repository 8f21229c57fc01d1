package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"crm-sync-platform/internal/container"
	"crm-sync-platform/internal/services"
)

// Deps are the pipeline services the commands drive
type Deps struct {
	Sync     services.SyncService
	Resolver *services.ReferenceResolver
}

// Bootstrap builds the dependencies and returns a function that releases them
type Bootstrap func(ctx context.Context) (*Deps, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Bootstrap overrides dependency wiring (for testing).
	// If nil, the fx container is started.
	Bootstrap Bootstrap
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the crm-sync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crm-sync",
		Short: "Synchronize source records with the CRM",
		Long:  "Runs one-shot synchronization passes between the source system and HubSpot.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewResolveOwnerCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// deps runs the configured bootstrap, or starts the fx container
func (o *RootOptions) deps(ctx context.Context) (*Deps, func(), error) {
	if o.Bootstrap != nil {
		return o.Bootstrap(ctx)
	}
	return containerBootstrap(ctx)
}

func containerBootstrap(ctx context.Context) (*Deps, func(), error) {
	deps := &Deps{}
	app := fx.New(
		container.Module,
		fx.NopLogger,
		fx.Populate(&deps.Sync, &deps.Resolver),
	)
	if err := app.Start(ctx); err != nil {
		return nil, nil, err
	}

	release := func() {
		_ = app.Stop(context.Background())
	}
	return deps, release, nil
}
