package core

// Error Codes Reference
//
// MapError turns any error into a UserMessage with a code support staff can
// look up. Domain sentinels are matched first with errors.Is; anything else
// falls through to the case-insensitive pattern table below.
//
// # Ledger Errors (LED001-LED099)
//
//	LED001 - Already revoked: the batch was reversed earlier
//	         Action: Refresh the batch list; the revoke action no longer applies
//	LED002 - Batch not found: no rows carry this batch key
//	         Action: Check the batch key or refresh the batch list
//	LED003 - Redaction policy: a sensitive field was sent in clear
//	         Action: Redact the field before recording the change
//	LED004 - Audit entry not found
//	LED005 - Action not allowed for this entity type
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Validation failed: one or more rows were rejected, nothing was saved
//	         Action: Fix the listed rows and submit the whole file again
//	IMP002 - System busy: too many imports in progress
//	IMP003 - Not importable: the entity type has no import layout
//	IMP004 - Unknown entity type
//	IMP005 - Record not found
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Storage failure: nothing was committed, safe to retry
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Timeout
//	DB005 - Deadlock
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date (expected DD/MM/YYYY)
//	VAL002 - Invalid number (expected 1.234,56)
//	VAL003 - Required field is empty
//	VAL004 - Invalid month
//	VAL005 - Unexpected header
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE003 - No file provided
//	FILE004 - Empty file
//
// # Other
//
//	RATE001 - Rate limited
//	AUTH001 - Missing or invalid credentials
//	ERR000  - Unknown error; check the server log for the technical error

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// sentinelMessages is checked before the pattern table, in order.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrAlreadyRevoked, UserMessage{"This batch has already been revoked", "Refresh the batch list; the revoke action no longer applies", "LED001"}},
	{ErrBatchNotFound, UserMessage{"No records exist for this batch", "Check the batch key or refresh the batch list", "LED002"}},
	{ErrRedactionPolicy, UserMessage{"A sensitive field was sent without redaction", "Redact sensitive fields before recording the change", "LED003"}},
	{ErrAuditNotFound, UserMessage{"Audit entry not found", "Verify the entry id", "LED004"}},
	{ErrActionNotAllowed, UserMessage{"This action is not valid for the entity type", "Choose an action from the entity type's vocabulary", "LED005"}},
	{ErrValidationFailed, UserMessage{"The file was rejected and nothing was saved", "Fix the listed rows and submit the whole file again", "IMP001"}},
	{ErrTooManyImports, UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP002"}},
	{ErrNotIngestible, UserMessage{"This entity type does not accept file imports", "Use an importable entity type", "IMP003"}},
	{ErrUnknownEntity, UserMessage{"Unknown entity type", "Verify the entity type in the URL", "IMP004"}},
	{ErrRecordNotFound, UserMessage{"Record not found", "Verify the record id", "IMP005"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum size limit", "Split the file into smaller batches", "FILE001"}},
	{ErrStorageFailure, UserMessage{"The change could not be saved; nothing was committed", "Please try again", "DB001"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// The first match wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB002"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB003"}},
	{"deadline exceeded", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB004"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},

	// Field validation
	{"invalid date", UserMessage{"Invalid date format detected", "Use DD/MM/YYYY, for example 31/01/2024", "VAL001"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Use the 1.234,56 format without letters", "VAL002"}},
	{"required value", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL003"}},
	{"invalid month", UserMessage{"Invalid month", "Use a month number from 1 to 12", "VAL004"}},
	{"unexpected header", UserMessage{"The header does not match the import layout", "Download the template and keep its column order", "VAL005"}},

	// Files
	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the file into smaller batches", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid delimited file", "Save the file as CSV separated by semicolons", "FILE002"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to import", "FILE003"}},
	{"empty file", UserMessage{"The file has no data rows", "Please import a file with at least one data row", "FILE004"}},

	// Requests
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
	{"unauthorized", UserMessage{"Missing or invalid credentials", "Sign in again or check the API key", "AUTH001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(fmt.Errorf("revoke: %w", ErrAlreadyRevoked))
//	// msg.Code == "LED001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
