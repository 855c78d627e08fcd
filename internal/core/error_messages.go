package core

// # Error Codes Reference
//
// Errors shown to operators carry a code they can quote to support. Codes
// are grouped by category:
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import not found: The import was completed, cancelled or never existed
//	         Action: Upload the file again if the data is still needed
//	         Matches: ErrRecordNotFound
//
//	IMP002 - Unknown importer: No importer is registered under this name
//	         Action: Pick an importer from the dashboard
//	         Matches: ErrImporterNotFound
//
//	IMP003 - Import busy: Another batch of this import is running
//	         Action: Wait for the current batch to finish
//	         Matches: ErrTickInProgress
//
//	IMP004 - Importer inactive: This importer accepts uploads but does not import them
//	         Action: Contact the administrator who configured the importer
//	         Matches: ErrNoImportBehavior
//
//	IMP005 - Batch failed: The importer rejected a batch of rows
//	         Action: The same rows are retried on the next run; check the logs
//	         Matches: *ImportBehaviorError
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Upload rejected: the validation message itself, e.g.
//	         "Row 3 has 4 columns, expecting 3 or fewer columns"
//	         Action: Fix the file and upload it again
//	         Matches: ErrValidation
//
// # Authorization Errors (AUTH001-AUTH099)
//
//	AUTH001 - Not allowed: You do not have permission to use this importer
//	          Action: Ask an administrator for access
//	          Matches: ErrUnauthorized
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - No file: No file was selected
//	         Patterns: "no file provided"
//
//	UPL002 - System busy: Too many uploads in progress
//	         Matches: ErrTooManyUploads
//
//	UPL004 - Request cancelled
//	         Patterns: "context canceled"
//
//	UPL005 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Storage failure: The import store could not be reached or updated
//	        Matches: ErrStorage
//
//	DB004 - Connection refused      Patterns: "connection refused"
//	DB005 - Connection reset        Patterns: "connection reset"
//	DB006 - Timeout                 Patterns: "timeout"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application logs for the
// original error.
//
// # Matching
//
// Sentinels are checked first with errors.Is, so wrapping keeps the code
// stable. Errors that carry no sentinel, mostly raw driver errors, fall
// through to case-insensitive substring patterns. The first match wins.

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages is checked before errorPatterns. Validation and batch
// failures are handled separately so their text reaches the operator.
var sentinelMessages = []sentinelMessage{
	{
		target: ErrRecordNotFound,
		msg: UserMessage{
			Message: "The import was completed, cancelled or never existed",
			Action:  "Upload the file again if the data is still needed",
			Code:    "IMP001",
		},
	},
	{
		target: ErrImporterNotFound,
		msg: UserMessage{
			Message: "No importer is registered under this name",
			Action:  "Pick an importer from the dashboard",
			Code:    "IMP002",
		},
	},
	{
		target: ErrTickInProgress,
		msg: UserMessage{
			Message: "Another batch of this import is running",
			Action:  "Wait for the current batch to finish",
			Code:    "IMP003",
		},
	},
	{
		target: ErrNoImportBehavior,
		msg: UserMessage{
			Message: "This importer accepts uploads but does not import them",
			Action:  "Contact the administrator who configured the importer",
			Code:    "IMP004",
		},
	},
	{
		target: ErrUnauthorized,
		msg: UserMessage{
			Message: "You do not have permission to use this importer",
			Action:  "Ask an administrator for access",
			Code:    "AUTH001",
		},
	},
	{
		target: ErrTooManyUploads,
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		target: ErrStorage,
		msg: UserMessage{
			Message: "The import store could not be reached or updated",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. Specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "UPL001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later",
			Code:    "DB006",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(errors.Wrap(ErrUnauthorized, "editor lacks import_raw_rows"))
//	// msg.Code == "AUTH001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return UserMessage{
			Message: ve.Error(),
			Action:  "Fix the file and upload it again",
			Code:    "VAL001",
		}
	}

	var ibe *ImportBehaviorError
	if errors.As(err, &ibe) {
		return UserMessage{
			Message: fmt.Sprintf("The importer rejected rows starting at row %d", ibe.Offset+1),
			Action:  "The same rows are retried on the next run; check the logs",
			Code:    "IMP005",
		}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
