package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// Envelope error codes.
const (
	codeMissingRequired = "MISSING_REQUIRED"
	codeInvalidInput    = "INVALID_INPUT"
	codeInternalError   = "INTERNAL_ERROR"
)

// errMissingRequired distinguishes absent input from malformed input in
// the envelope error code. It wraps ErrValidation so both exit 2.
var errMissingRequired = fmt.Errorf("missing required input: %w", types.ErrValidation)

// envelopeError is the error block of a failure envelope.
type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// envelope is the JSON output contract shared by every command.
type envelope struct {
	Success   bool           `json:"success"`
	Command   string         `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	Data      any            `json:"data,omitempty"`
	Error     *envelopeError `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// commandField strips the binary name from a cobra command path, so
// "cm playbook list" reports as "playbook list".
func commandField(cmd *cobra.Command) string {
	path := cmd.CommandPath()
	trimmed := strings.TrimPrefix(path, rootCmd.Name()+" ")
	if trimmed == "" {
		return rootCmd.Name()
	}
	return trimmed
}

func printEnvelope(env envelope) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// emitData prints the success envelope for one command.
func emitData(cmd *cobra.Command, data any) error {
	return emitDataMeta(cmd, data, nil)
}

// emitDataMeta prints the success envelope with a metadata block.
func emitDataMeta(cmd *cobra.Command, data any, meta map[string]any) error {
	return printEnvelope(envelope{
		Success:   true,
		Command:   commandField(cmd),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  meta,
	})
}

// classifyError maps an error to its envelope code and process exit code.
func classifyError(err error) (code string, exit int) {
	switch {
	case errors.Is(err, errMissingRequired):
		return codeMissingRequired, 2
	case errors.Is(err, types.ErrValidation):
		return codeInvalidInput, 2
	default:
		return codeInternalError, 1
	}
}

// reportError prints one failure in the active output mode and returns
// the exit code. JSON mode gets a failure envelope on stdout; human mode
// a single Error line on stderr.
func reportError(command string, err error) int {
	code, exit := classifyError(err)
	if activeJSON {
		_ = printEnvelope(envelope{
			Success:   false,
			Command:   command,
			Timestamp: time.Now().UTC(),
			Error:     &envelopeError{Code: code, Message: err.Error()},
		})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exit
}
