package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crm-sync-platform/internal/models"
)

// PassOptions holds flags shared by run and extract.
type PassOptions struct {
	*RootOptions
	Entity      string
	CutDate     string
	WindowHours int
	Target      string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pass from the source system into the CRM",
		Long: `Fetch source records changed since the cut date, write them to the CRM
and record a status for each one.

Example:
  crm-sync run --entity order --cut-date 2024-03-01T00:00:00Z
  crm-sync run --entity contact --cut-date 2024-03-01 --window-hours 6 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, opts, false)
		},
	}

	addPassFlags(cmd, opts)
	return cmd
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract changed CRM records for a downstream target",
		Long: `Search the CRM for records modified since the cut date and transform them
for a downstream target, enriching deals, companies and contacts.

Example:
  crm-sync extract --entity opportunity --cut-date 2024-03-01T00:00:00Z --target source`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, opts, true)
		},
	}

	addPassFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Target, "target", "", "downstream target (defaults to sync.extract_target)")
	return cmd
}

func addPassFlags(cmd *cobra.Command, opts *PassOptions) {
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity type (required)")
	cmd.Flags().StringVar(&opts.CutDate, "cut-date", "", "checkpoint, RFC3339 or YYYY-MM-DD (required)")
	cmd.Flags().IntVar(&opts.WindowHours, "window-hours", 0, "query window size in hours (defaults to sync.window_hours)")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("cut-date")
}

func runPass(cmd *cobra.Command, opts *PassOptions, extract bool) error {
	req, err := opts.request(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	deps, release, err := opts.deps(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer release()

	var result *models.PassResult
	if extract {
		result, err = deps.Sync.Extract(cmd.Context(), req)
	} else {
		result, err = deps.Sync.RunPass(cmd.Context(), req)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "pass failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err := out.PassResult(result); err != nil {
		return err
	}
	return failedRecords(result)
}

func (o *PassOptions) request(cmd *cobra.Command) (*models.PassRequest, error) {
	cutDate, err := parseCutDate(o.CutDate)
	if err != nil {
		return nil, err
	}

	req := &models.PassRequest{
		EntityType: models.EntityType(o.Entity),
		CutDate:    cutDate,
		Target:     o.Target,
	}
	if cmd.Flags().Changed("window-hours") {
		if o.WindowHours < 0 {
			return nil, fmt.Errorf("window-hours must not be negative")
		}
		hours := o.WindowHours
		req.WindowHours = &hours
	}
	if !req.EntityType.IsValid() {
		return nil, fmt.Errorf("unsupported entity type %q", o.Entity)
	}
	return req, nil
}

func parseCutDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("cut-date %q is neither RFC3339 nor YYYY-MM-DD", value)
	}
	return t, nil
}
