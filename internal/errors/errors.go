// Package errors provides structured error handling for bifrost operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"
	CodeNotFound      ErrorCode = "NOT_FOUND"

	// Action registry errors.
	CodeUnknownModule   ErrorCode = "UNKNOWN_MODULE"
	CodeUnknownClass    ErrorCode = "UNKNOWN_CLASS"
	CodeMissingParent   ErrorCode = "MISSING_PARENT"
	CodeDuplicateAction ErrorCode = "DUPLICATE_ACTION"
	CodeRegistrySource  ErrorCode = "REGISTRY_SOURCE"

	// Action execution errors.
	CodeActionFailed  ErrorCode = "ACTION_FAILED"
	CodeActionPanic   ErrorCode = "ACTION_PANIC"
	CodeStatusCorrupt ErrorCode = "STATUS_CORRUPT"

	// Target store errors.
	CodeStoreRead  ErrorCode = "STORE_READ"
	CodeStoreWrite ErrorCode = "STORE_WRITE"

	// Discovery and remediation errors.
	CodeDiscoveryFailed   ErrorCode = "DISCOVERY_FAILED"
	CodeRemediationFailed ErrorCode = "REMEDIATION_FAILED"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"
)

// ActionError represents a failure while running an action against a target.
type ActionError struct {
	Code    ErrorCode
	Message string
	Action  string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	switch {
	case e.Action != "" && e.Target != "":
		return fmt.Sprintf("[%s] %s (action: %s, target: %s)", e.Code, e.Message, e.Action, e.Target)
	case e.Action != "":
		return fmt.Sprintf("[%s] %s (action: %s)", e.Code, e.Message, e.Action)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ActionError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ActionError) WithContext(key string, value interface{}) *ActionError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewActionError creates a new action error.
func NewActionError(code ErrorCode, message, action, target string) *ActionError {
	return &ActionError{
		Code:    code,
		Message: message,
		Action:  action,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapActionError wraps an existing error as an action error.
func WrapActionError(code ErrorCode, message, action, target string, err error) *ActionError {
	e := NewActionError(code, message, action, target)
	e.Cause = err
	return e
}

// StoreError represents a target store read or write failure.
type StoreError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WrapStoreError wraps an existing error as a store error.
func WrapStoreError(code ErrorCode, operation string, err error) *StoreError {
	msg := "Target store read failed"
	if code == CodeStoreWrite {
		msg = "Target store write failed"
	}
	return &StoreError{
		Code:      code,
		Message:   msg,
		Operation: operation,
		Cause:     err,
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DiscoveryError represents network discovery errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Network string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (network: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message string, err error) *DiscoveryError {
	return &DiscoveryError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// RemediationError represents a failure of the idle recovery collaborator.
type RemediationError struct {
	Code    ErrorCode
	Message string
	Network string
	Cause   error
}

// Error implements the error interface.
func (e *RemediationError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (ssid: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RemediationError) Unwrap() error {
	return e.Cause
}

// WrapRemediationError wraps an existing error as a remediation error.
func WrapRemediationError(message, network string, err error) *RemediationError {
	return &RemediationError{
		Code:    CodeRemediationFailed,
		Message: message,
		Network: network,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// coded is satisfied by every error type in this package.
type coded interface {
	error
	code() ErrorCode
}

func (e *ActionError) code() ErrorCode      { return e.Code }
func (e *StoreError) code() ErrorCode       { return e.Code }
func (e *DatabaseError) code() ErrorCode    { return e.Code }
func (e *DiscoveryError) code() ErrorCode   { return e.Code }
func (e *RemediationError) code() ErrorCode { return e.Code }
func (e *ConfigError) code() ErrorCode      { return e.Code }

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if c, ok := err.(coded); ok && c.code() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// GetCode extracts the outermost error code from an error chain.
func GetCode(err error) ErrorCode {
	var c coded
	if stderrors.As(err, &c) {
		return c.code()
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeDatabaseTimeout, CodeStoreWrite, CodeStoreRead:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeConfiguration, CodeRegistrySource, CodeDatabaseMigration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrUnknownModule reports a registry record naming a module with no catalog entry.
func ErrUnknownModule(module string) *ConfigError {
	return NewConfigFieldError(CodeUnknownModule, "Unknown action module", "module", module)
}

// ErrUnknownClass reports a registry record naming a class its module does not provide.
func ErrUnknownClass(module, class string) *ConfigError {
	return NewConfigFieldError(CodeUnknownClass, "Unknown action class in module "+module, "class", class)
}

// ErrMissingParent reports an action whose parent is not registered.
func ErrMissingParent(action, parent string) *ConfigError {
	return NewConfigFieldError(CodeMissingParent, "Parent action not registered for "+action, "parent", parent)
}

// ErrDuplicateAction reports two registry records resolving to the same action name.
func ErrDuplicateAction(action string) *ConfigError {
	return NewConfigFieldError(CodeDuplicateAction, "Duplicate action name", "class", action)
}

// ErrStatusCorrupt reports a status cell that could not be decoded.
func ErrStatusCorrupt(action, target, raw string, err error) *ActionError {
	return WrapActionError(CodeStatusCorrupt, "Corrupt status value", action, target, err).
		WithContext("raw", raw)
}

// ErrActionPanic reports a panic recovered from an action invocation.
func ErrActionPanic(action, target string, recovered interface{}) *ActionError {
	return NewActionError(CodeActionPanic, fmt.Sprintf("Action panicked: %v", recovered), action, target)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrDiscoveryFailed creates an error for discovery failures.
func ErrDiscoveryFailed(network string, err error) *DiscoveryError {
	e := WrapDiscoveryError(CodeDiscoveryFailed, "Network discovery failed", err)
	e.Network = network
	return e
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
