package types

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category. Kinds are safe to expose
// to clients and to use as metric attributes.
type Kind string

const (
	// KindPermissionDenied means the user declined microphone access.
	KindPermissionDenied Kind = "permission_denied"

	// KindUnsupported means no recognition capability exists in the runtime.
	// Callers select the capture fallback path instead of failing.
	KindUnsupported Kind = "unsupported"

	// KindTranscode means the uploaded audio could not be decoded or the
	// canonical output could not be written. See [Error.Reason].
	KindTranscode Kind = "transcode_error"

	// KindModelMissing means the offline model location does not exist.
	KindModelMissing Kind = "model_missing"

	// KindCredentialMissing means a required API credential is not configured.
	KindCredentialMissing Kind = "credential_missing"

	// KindTranscriptionBackend means the transcription backend failed.
	KindTranscriptionBackend Kind = "transcription_backend_error"

	// KindCorrectionBackend means the correction backend failed. It is never
	// fatal to a pipeline invocation.
	KindCorrectionBackend Kind = "correction_backend_error"

	// KindInvalidInput means the request itself was malformed (for example an
	// empty upload).
	KindInvalidInput Kind = "invalid_input"
)

// Transcode failure reasons carried in [Error.Reason].
const (
	ReasonDecode = "decode"
	ReasonWrite  = "write"
)

// Error is the error type surfaced across package boundaries. It carries a
// stable [Kind] plus the operation that failed and the underlying cause.
type Error struct {
	Kind   Kind
	Reason string
	Op     string
	Err    error
}

// NewError returns an *Error of the given kind. err may be nil.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// TranscodeError returns a [KindTranscode] error with the given reason.
func TranscodeError(reason, op string, err error) *Error {
	return &Error{Kind: KindTranscode, Reason: reason, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with an
// empty Reason matches any reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf returns the kind of the first *Error in err's chain, or the empty
// string when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ErrorMessage returns the innermost human-readable message for err, without the
// kind and operation prefixes added by [Error.Error]. Useful when surfacing a
// backend's own message to clients.
func ErrorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return ErrorMessage(e.Err)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
