// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitBackendError indicates the reply failed: service unreachable,
	// HTTP error or an error event in the stream
	ExitBackendError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// usageError reports bad arguments.
func usageError(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), ExitUsageError)
}

// configError wraps a configuration failure.
func configError(err error) error {
	return cli.Exit(fmt.Sprintf("config: %v", err), ExitConfigError)
}

// ExitCode returns the process exit code for an error returned by the app.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ExitGeneralError
}
