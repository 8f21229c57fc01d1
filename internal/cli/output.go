package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"crm-sync-platform/internal/models"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The pass ran but some records failed
	ExitCommandError = 2 // Command error (bad flags, unreachable systems, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
}

// Success outputs a result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// PassResult prints a pass summary; verbose text output lists every record.
func (f *OutputFormatter) PassResult(result *models.PassResult) error {
	if f.Format == "json" {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "pass %s (%s): %d records\n", result.PassID, result.EntityType, len(result.Records))

	statuses := make([]string, 0, len(result.Counts))
	for status := range result.Counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(f.Writer, "  %-8s %d\n", status, result.Counts[status])
	}

	if f.Verbose {
		for _, record := range result.Records {
			fmt.Fprintf(f.Writer, "  %s %s %s %s\n", record.TxStatus, record.TxTypeSrcID, record.TgtID, record.TxNote)
		}
	}
	return nil
}

// failedRecords returns an ExitFailure error when a pass had failures
func failedRecords(result *models.PassResult) error {
	if failed := result.Counts[string(models.TxStatusFailure)]; failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d records failed", failed)}
	}
	return nil
}
