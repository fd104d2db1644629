// Package classify maps raw send outcomes onto the three-way disposition
// the task engine acts on. The mapping is deterministic and total: every
// reason string resolves to exactly one disposition.
package classify

import "strings"

// Disposition is the three-way outcome of a send attempt
type Disposition int

const (
	Success Disposition = iota
	Retryable
	Permanent
)

func (d Disposition) String() string {
	switch d {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Code identifies the failure class of a send attempt
type Code string

const (
	CodeNavTimeout      Code = "NAV_TIMEOUT"
	CodeSendTimeout     Code = "SEND_TIMEOUT"
	CodeAuthRequired    Code = "AUTH_REQUIRED"
	CodeUINotFound      Code = "UI_NOT_FOUND"
	CodeUnknown         Code = "UNKNOWN"
	CodeWorkerException Code = "WORKER_EXCEPTION"
	CodeMaxAttempts     Code = "MAX_ATTEMPTS"
	CodeEngineCrash     Code = "ENGINE_CRASH"
)

// Result is a classified send attempt
type Result struct {
	Disposition  Disposition
	Code         Code
	Message      string
	EvidencePath string
}

// composerAbsentReasons mark conversations whose UI structurally cannot
// accept input. Retrying cannot help, so these classify as permanent.
var composerAbsentReasons = []string{
	"composer not found",
	"input box not found",
	"message box not found",
	"no input surface",
	"cannot message this account",
	"conversation unavailable",
	"person unavailable",
}

var navTimeoutReasons = []string{
	"page failed to load",
	"navigation timeout",
	"page load timed out",
}

var authRequiredReasons = []string{
	"login required",
	"authentication required",
	"session expired",
	"not logged in",
	"checkpoint",
}

// Reason classifies a raw failure reason string from the page automation
// backend. Unrecognized reasons are retryable with code UNKNOWN; nothing is
// unclassifiable.
func Reason(reason string) Result {
	lower := strings.ToLower(reason)

	if matchesAny(lower, composerAbsentReasons) {
		return Result{Disposition: Permanent, Code: CodeUINotFound, Message: orDefault(reason, "composer not found")}
	}
	if matchesAny(lower, navTimeoutReasons) {
		return Result{Disposition: Retryable, Code: CodeNavTimeout, Message: reason}
	}
	if matchesAny(lower, authRequiredReasons) {
		return Result{Disposition: Retryable, Code: CodeAuthRequired, Message: reason}
	}
	return Result{Disposition: Retryable, Code: CodeUnknown, Message: orDefault(reason, "unknown failure")}
}

func matchesAny(lower string, vocab []string) bool {
	for _, v := range vocab {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
