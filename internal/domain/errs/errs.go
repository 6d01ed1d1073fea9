// Package errs defines the error taxonomy shared by the credential subsystem.
// Each kind maps to a distinct handling strategy: configuration and integrity
// failures abort, transient failures may be retried later by the sweep,
// rejected and unauthorized failures need someone to change something first.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrActiveCredentialExists is returned when a service already holds a
	// credential that is not deprovisioned.
	ErrActiveCredentialExists = errors.New("service already has an active credential")

	// ErrInvalidTransition is returned when a lifecycle operation is not legal
	// from the credential's current provisioning status.
	ErrInvalidTransition = errors.New("invalid provisioning status transition")

	// ErrInvalidServiceID is returned when no username can be derived from a service id.
	ErrInvalidServiceID = errors.New("invalid service id")
)

// ConfigurationError means the process is not configured to handle secrets,
// typically a missing or malformed encryption key. It is fatal at startup.
type ConfigurationError struct {
	Setting string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(setting, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Message: message, Cause: cause}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IntegrityError means an envelope failed authentication on decrypt: wrong
// key, corrupted bytes or truncation. It is a security incident and is never
// retried with another key.
type IntegrityError struct {
	CredentialID string
	Cause        error
}

func (e *IntegrityError) Error() string {
	if e.CredentialID != "" {
		return fmt.Sprintf("integrity check failed for credential %s", e.CredentialID)
	}
	return "integrity check failed"
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *IntegrityError) Unwrap() error {
	return e.Cause
}

// NewIntegrityError creates an IntegrityError.
func NewIntegrityError(credentialID string, cause error) *IntegrityError {
	return &IntegrityError{CredentialID: credentialID, Cause: cause}
}

// IsIntegrityError returns true if the error is an IntegrityError.
func IsIntegrityError(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}

// Resource kinds carried by NotFoundError.
const (
	ResourceCredential = "credential"
	ResourceSubscriber = "subscriber"
)

// NotFoundError indicates a missing entity. For a remote subscriber it is the
// idempotent success path of deprovisioning; for a local credential it is a
// hard error.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFoundError returns true if the error is a NotFoundError of any resource kind.
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsRemoteNotFound returns true if the error reports a missing remote subscriber.
func IsRemoteNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target) && target.Resource == ResourceSubscriber
}

// IsLocalNotFound returns true if the error reports a missing local credential.
func IsLocalNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target) && target.Resource == ResourceCredential
}

// UnauthorizedError means the provider refused this service's own API
// credentials. Operators must rotate the provider token; customer
// credentials are not at fault.
type UnauthorizedError struct {
	Operation  string
	StatusCode int
	Cause      error
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("provider rejected service credentials during %s (HTTP %d)", e.Operation, e.StatusCode)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *UnauthorizedError) Unwrap() error {
	return e.Cause
}

// NewUnauthorizedError creates an UnauthorizedError.
func NewUnauthorizedError(operation string, statusCode int, cause error) *UnauthorizedError {
	return &UnauthorizedError{Operation: operation, StatusCode: statusCode, Cause: cause}
}

// IsUnauthorizedError returns true if the error is an UnauthorizedError.
func IsUnauthorizedError(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// TransientError indicates a temporary failure: timeout, network error, 5xx
// or rate limiting. The remote side effect may or may not have happened.
type TransientError struct {
	Operation string
	Cause     error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("transient error during %s", e.Operation)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a TransientError.
func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{Operation: operation, Cause: cause}
}

// IsTransientError returns true if the error is a TransientError.
func IsTransientError(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// RejectedError indicates the provider refused the request as invalid.
// Retrying without changing the input will not help.
type RejectedError struct {
	Operation  string
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("provider rejected %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("provider rejected %s (HTTP %d)", e.Operation, e.StatusCode)
}

// NewRejectedError creates a RejectedError.
func NewRejectedError(operation string, statusCode int, reason string) *RejectedError {
	return &RejectedError{Operation: operation, StatusCode: statusCode, Reason: reason}
}

// IsRejectedError returns true if the error is a RejectedError.
func IsRejectedError(err error) bool {
	var target *RejectedError
	return errors.As(err, &target)
}

// IsProviderError returns true for any error in the provider taxonomy.
func IsProviderError(err error) bool {
	return IsRemoteNotFound(err) || IsUnauthorizedError(err) || IsTransientError(err) || IsRejectedError(err)
}

// Kind returns a short stable label for the error's taxonomy class, suitable
// for logs and audit notes. Unknown errors report "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConfigurationError(err):
		return "configuration"
	case IsIntegrityError(err):
		return "integrity"
	case IsNotFoundError(err):
		return "not_found"
	case IsUnauthorizedError(err):
		return "unauthorized"
	case IsTransientError(err):
		return "transient"
	case IsRejectedError(err):
		return "rejected"
	default:
		return "internal"
	}
}
