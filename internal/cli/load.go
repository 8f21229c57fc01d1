package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"crm-sync-platform/internal/models"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <records.json|->",
		Short: "Write already-transformed records to the CRM",
		Long: `Read a JSON array of records ({"tx_type_src_id", "src_id", "data"}) and
write each one to the CRM. Use "-" to read from stdin.

Example:
  crm-sync load ./replay.json
  cat failed.json | crm-sync load - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runLoad(cmd *cobra.Command, opts *RootOptions, path string) error {
	records, err := readRecords(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	deps, release, err := opts.deps(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer release()

	result, err := deps.Sync.Load(cmd.Context(), records)
	if err != nil {
		return WrapExitError(ExitCommandError, "load failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err := out.PassResult(result); err != nil {
		return err
	}
	return failedRecords(result)
}

func readRecords(cmd *cobra.Command, path string) ([]*models.EntityRecord, error) {
	var reader io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}

	var records []*models.EntityRecord
	if err := json.NewDecoder(reader).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records in %s", path)
	}
	return records, nil
}
