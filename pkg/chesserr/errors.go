// Package chesserr defines the sentinel error kinds used across the
// bootstrap pipeline, so callers can classify a failure with errors.Is
// without depending on a specific package's internal error type.
package chesserr

import "errors"

var (
	// ErrUnreachable means a host could not be TCP-connected or SSH-handshaked within its deadline.
	ErrUnreachable = errors.New("host unreachable")

	// ErrAuthFailed means SSH authentication failed with every available method.
	ErrAuthFailed = errors.New("ssh authentication failed")

	// ErrExecFailed means a remote command returned a non-zero exit code.
	ErrExecFailed = errors.New("remote command failed")

	// ErrUploadFailed means an SFTP upload of one file or directory failed.
	ErrUploadFailed = errors.New("sftp upload failed")

	// ErrConfig means a required environment variable or on-disk declaration was missing or invalid.
	ErrConfig = errors.New("configuration error")

	// ErrFunctionUnknown means a FunctionRequest named a function absent from the registry.
	ErrFunctionUnknown = errors.New("unknown function")

	// ErrFunctionError means a registered handler returned an error.
	ErrFunctionError = errors.New("function handler error")

	// ErrStreamLost means the agent's gRPC stream ended, triggering a reconnect.
	ErrStreamLost = errors.New("agent stream lost")

	// ErrTaskNotFound means DeployStatus was asked about an ident with no artifacts directory.
	ErrTaskNotFound = errors.New("task not found")
)
