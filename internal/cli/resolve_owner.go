package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crm-sync-platform/internal/services"
)

// OwnerResult is the output of resolve-owner
type OwnerResult struct {
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	DisplayName string `json:"display_name"`
}

func (r OwnerResult) String() string {
	return fmt.Sprintf("%s\t%s", r.OwnerID, r.DisplayName)
}

// NewResolveOwnerCommand creates the resolve-owner command.
func NewResolveOwnerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-owner <full name>",
		Short: "Look up a CRM owner id by full name",
		Long: `Resolve an owner's full name (case-insensitive) to the CRM owner id, the
same lookup deal writes use for owner_name.

Example:
  crm-sync resolve-owner "Jane Doe"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveOwner(cmd, rootOpts, strings.Join(args, " "))
		},
	}
	return cmd
}

func resolveOwner(cmd *cobra.Command, opts *RootOptions, name string) error {
	deps, release, err := opts.deps(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer release()

	owner, err := deps.Resolver.OwnerByName(cmd.Context(), name)
	if err != nil {
		return WrapExitError(ExitCommandError, "owner lookup failed", err)
	}
	if owner == nil {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("no owner named %q", name)}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Success(OwnerResult{
		Name:        name,
		OwnerID:     owner.ID,
		DisplayName: services.DisplayName(owner),
	})
}
