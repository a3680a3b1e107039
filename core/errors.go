package core

import "fmt"

// TransportError reports a failed radio send or a missed acknowledgment after
// all retries. The remaining chunks of the affected message are abandoned.
type TransportError struct {
	Op      string // "send", "ack"
	Dest    string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s to %s failed (attempt %d): %v", e.Op, e.Dest, e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderErrorKind classifies AI backend failures by HTTP status family.
type ProviderErrorKind int

const (
	// ProviderErrorService covers 5xx and transport-level failures.
	ProviderErrorService ProviderErrorKind = iota
	// ProviderErrorRateLimited covers 429 and quota exhaustion.
	ProviderErrorRateLimited
	// ProviderErrorAuth covers 401/403.
	ProviderErrorAuth
	// ProviderErrorInvalid covers 400.
	ProviderErrorInvalid
)

// ProviderError reports an AI backend failure. It always degrades to a short
// user-facing string via UserMessage instead of propagating to the caller.
type ProviderError struct {
	Provider string
	Kind     ProviderErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (status %d): %v", e.Provider, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UserMessage renders the failure as a short string suitable for radio
// transmission back to the asking node.
func (e *ProviderError) UserMessage() string {
	switch e.Kind {
	case ProviderErrorRateLimited:
		return "Rate limit reached. Try again in a few minutes."
	case ProviderErrorAuth:
		return "API key issue. Contact admin."
	case ProviderErrorInvalid:
		return fmt.Sprintf("Invalid request: %.100v", e.Err)
	default:
		return fmt.Sprintf("%s service error (%d). Try again later.", e.Provider, e.Status)
	}
}

// ClassifyStatus maps an HTTP status code to a ProviderErrorKind.
func ClassifyStatus(status int) ProviderErrorKind {
	switch {
	case status == 429:
		return ProviderErrorRateLimited
	case status == 401 || status == 403:
		return ProviderErrorAuth
	case status == 400:
		return ProviderErrorInvalid
	default:
		return ProviderErrorService
	}
}

// ToolExecutionError reports a failed tool handler. It is caught per call and
// serialized into a ToolCallResult so the tool loop continues.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PersistenceError reports a best-effort disk operation failure. In-memory
// state stays authoritative for the process lifetime.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure at %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// LivenessFailure is fatal: the supervising layer terminates the process for
// an external restart because the cause is assumed unrecoverable in-process.
type LivenessFailure struct {
	Reason string
}

func (e *LivenessFailure) Error() string { return "liveness failure: " + e.Reason }
