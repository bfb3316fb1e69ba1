package importer

// usermsg.go maps pipeline errors onto operator-facing messages. Each
// message carries a stable code the operator can quote to support, and an
// action suggesting the next step.

import (
	"context"
	"errors"
	"fmt"
)

// UserMessage is the sanitized error surfaced to API clients.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// User-facing error codes.
const (
	MsgCodeNotFound     = "not_found"
	MsgCodeConflict     = "conflict"
	MsgCodeParse        = "parse_failed"
	MsgCodeMapping      = "invalid_mapping"
	MsgCodeState        = "invalid_state"
	MsgCodeUnknownType  = "unknown_entity_type"
	MsgCodeTooManyJobs  = "too_many_imports"
	MsgCodeCommitFailed = "commit_failed"
	MsgCodeInternal     = "internal"
)

// MapError converts a pipeline error into a UserMessage. Unknown errors
// collapse to a generic internal message so storage details never leak to
// clients.
func MapError(err error) UserMessage {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return UserMessage{
			Message: "Import job not found",
			Action:  "Check the import job id and try again",
			Code:    MsgCodeNotFound,
		}
	case errors.Is(err, ErrUnknownEntityType):
		return UserMessage{
			Message: "Unknown entity type",
			Action:  "List /api/import/entities for the supported types",
			Code:    MsgCodeUnknownType,
		}
	case errors.Is(err, ErrMappingLocked):
		return UserMessage{
			Message: "The column mapping can no longer be changed",
			Action:  "Cancel this import and start a new one to remap columns",
			Code:    MsgCodeState,
		}
	case errors.Is(err, ErrInvalidTransition):
		return UserMessage{
			Message: "This operation is not allowed in the job's current state",
			Action:  "Poll the job's progress to see its current status",
			Code:    MsgCodeState,
		}
	case errors.Is(err, ErrTooManyImports):
		return UserMessage{
			Message: "Too many imports are running right now",
			Action:  "Wait for a running import to finish and confirm again",
			Code:    MsgCodeTooManyJobs,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return UserMessage{
			Message: "The operation timed out",
			Action:  "Try again, or upload a smaller file",
			Code:    MsgCodeInternal,
		}
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return UserMessage{
			Message: fmt.Sprintf("An import for %s is already in progress", conflict.EntityType),
			Action:  "Wait for the running import to finish or cancel it first",
			Code:    MsgCodeConflict,
		}
	}

	var parse *ParseError
	if errors.As(err, &parse) {
		return UserMessage{
			Message: "The file could not be read: " + parse.Reason,
			Action:  "Export the data as CSV or XLSX with a header row and re-upload",
			Code:    MsgCodeParse,
		}
	}

	var mapping MappingErrors
	if errors.As(err, &mapping) {
		return UserMessage{
			Message: mapping.Error(),
			Action:  "Correct the column mapping and resubmit",
			Code:    MsgCodeMapping,
		}
	}

	var fatal *FatalCommitError
	if errors.As(err, &fatal) {
		return UserMessage{
			Message: "The import failed partway through",
			Action:  "Review the job's errors, fix the file, and import the remainder",
			Code:    MsgCodeCommitFailed,
		}
	}

	return UserMessage{
		Message: "Something went wrong",
		Action:  "Try again in a few moments",
		Code:    MsgCodeInternal,
	}
}
