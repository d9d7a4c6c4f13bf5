// Package core provides the business logic for QA measurement import.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Codes are grouped by category:
//
// # Authentication (AUTH001-AUTH099)
//
//	AUTH001 - Credentials rejected by QATrack+
//	          Patterns: "authentication rejected"
//	AUTH002 - QATrack+ unreachable
//	          Patterns: "cannot reach"
//	AUTH003 - Login page returned no CSRF token
//	          Patterns: "no csrf token"
//
// # Sources (SRC001-SRC099)
//
//	SRC001 - Source file missing
//	         Patterns: "no such file"
//	SRC002 - Source read failure (file or database)
//	         Patterns: "source read failed"
//
// # Mapping (MAP001-MAP099)
//
//	MAP001 - Record value cannot be converted
//	         Patterns: "mapping failed"
//
// # Submission (SUB001-SUB099)
//
//	SUB001 - Server re-rendered the form with validation errors
//	         Patterns: "submission rejected"
//	SUB002 - Transport or HTTP status failure
//	         Patterns: "submission failed"
//
// # Runs (RUN001-RUN099)
//
//	RUN001 - Target already has a run in flight
//	RUN002 - Run id unknown or expired
//	RUN003 - Target id not configured
//	RUN004 - Too many concurrent runs
//	RUN005 - Run cancelled
//	RUN006 - Run timed out
//
// # Configuration (CFG001-CFG099)
//
//	CFG001 - Invalid start or end cursor
//	         Patterns: "invalid row cursor", "invalid date cursor"
//	CFG002 - Configuration validation failed
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check application logs for the
// original error.
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Authentication
	{
		pattern: "authentication rejected",
		msg: UserMessage{
			Message: "QATrack+ rejected the username or password",
			Action:  "Check the QATrack+ credentials in your configuration",
			Code:    "AUTH001",
		},
	},
	{
		pattern: "cannot reach",
		msg: UserMessage{
			Message: "Unable to reach the QATrack+ server",
			Action:  "Check the server URL and your network connection",
			Code:    "AUTH002",
		},
	},
	{
		pattern: "no csrf token",
		msg: UserMessage{
			Message: "The login page did not issue a CSRF token",
			Action:  "Verify the server URL points at a QATrack+ installation",
			Code:    "AUTH003",
		},
	},

	// Sources
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "The source file could not be found",
			Action:  "Check the file path configured for this target",
			Code:    "SRC001",
		},
	},
	{
		pattern: "source read failed",
		msg: UserMessage{
			Message: "Unable to read source records",
			Action:  "Check the source file or database connection and run again",
			Code:    "SRC002",
		},
	},

	// Mapping
	{
		pattern: "mapping failed",
		msg: UserMessage{
			Message: "A record contains a value that cannot be converted",
			Action:  "Correct the record in the source; the next run resumes after it",
			Code:    "MAP001",
		},
	},

	// Submission
	{
		pattern: "submission rejected",
		msg: UserMessage{
			Message: "QATrack+ rejected the submitted values",
			Action:  "Open the last response file to see the server's validation errors",
			Code:    "SUB001",
		},
	},
	{
		pattern: "submission failed",
		msg: UserMessage{
			Message: "Submission to QATrack+ failed",
			Action:  "Check the server and run again; the failed record is not retried",
			Code:    "SUB002",
		},
	},

	// Runs
	{
		pattern: "target busy",
		msg: UserMessage{
			Message: "An import is already running for this target",
			Action:  "Wait for it to finish or cancel it",
			Code:    "RUN001",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "The run may have expired. Start a new import",
			Code:    "RUN002",
		},
	},
	{
		pattern: "unknown target",
		msg: UserMessage{
			Message: "Unknown target",
			Action:  "Check the target id against the targets file",
			Code:    "RUN003",
		},
	},
	{
		pattern: "too many concurrent runs",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "RUN004",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Run again to resume from the last processed record",
			Code:    "RUN005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Import timed out",
			Action:  "Run again to resume from the last processed record",
			Code:    "RUN006",
		},
	},

	// Configuration
	{
		pattern: "invalid row cursor",
		msg: UserMessage{
			Message: "Invalid start or end row",
			Action:  "Use a row number of 1 or more",
			Code:    "CFG001",
		},
	},
	{
		pattern: "invalid date cursor",
		msg: UserMessage{
			Message: "Invalid start or end date",
			Action:  "Use YYYYMMDD or YYYY-MM-DD",
			Code:    "CFG001",
		},
	},
	{
		pattern: "validation failed",
		msg: UserMessage{
			Message: "Configuration is invalid",
			Action:  "Fix the listed settings and restart",
			Code:    "CFG002",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
