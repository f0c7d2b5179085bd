// Package syncerr defines the error taxonomy shared by the sync engine.
// Every error carries a Code so callers can route failures programmatically
// (for example PushRejected to merge resolution) instead of matching messages.
package syncerr

import (
	"errors"
	"io/fs"
	"os"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Code discriminates error kinds.
type Code string

const (
	CodeConfig              Code = "config"
	CodePrecondition        Code = "precondition"
	CodeDecrypt             Code = "decrypt"
	CodeRevisionUnavailable Code = "revision_unavailable"
	CodePushRejected        Code = "push_rejected"
	CodeDiverged            Code = "diverged"
	CodeRetryExhausted      Code = "retry_exhausted"
	CodeUpload              Code = "upload"
)

// Error is a coded sync failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return string(e.Code) + ": " + e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrConfig              = &Error{Code: CodeConfig}
	ErrPrecondition        = &Error{Code: CodePrecondition}
	ErrDecrypt             = &Error{Code: CodeDecrypt}
	ErrRevisionUnavailable = &Error{Code: CodeRevisionUnavailable}
	ErrPushRejected        = &Error{Code: CodePushRejected}
	ErrDiverged            = &Error{Code: CodeDiverged}
	ErrRetryExhausted      = &Error{Code: CodeRetryExhausted}
	ErrUpload              = &Error{Code: CodeUpload}
)

func newError(code Code, msg string, err error) error {
	return &Error{Code: code, Message: msg, Err: err}
}

func Config(msg string) error       { return newError(CodeConfig, msg, nil) }
func Precondition(msg string) error { return newError(CodePrecondition, msg, nil) }

// Decrypt reports a failed authenticated decryption.
func Decrypt(err error) error {
	return newError(CodeDecrypt, "key mismatch or corrupted data", err)
}

func RevisionUnavailable(rev string, err error) error {
	return newError(CodeRevisionUnavailable,
		"revision "+rev+" is not available; the remote may not allow fetching arbitrary commits", err)
}

func PushRejected(err error) error {
	return newError(CodePushRejected, "push rejected: remote has changes that are not present locally, pull or merge first", err)
}

func Diverged(msg string) error { return newError(CodeDiverged, msg, nil) }

func RetryExhausted(op string, err error) error {
	return newError(CodeRetryExhausted, op+": retries exhausted", err)
}

func Upload(name string, err error) error {
	return newError(CodeUpload, "upload "+name+" failed", err)
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err signals benign absence in the storage layer.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, object.ErrFileNotFound) ||
		errors.Is(err, object.ErrDirectoryNotFound) ||
		errors.Is(err, object.ErrEntryNotFound) ||
		errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, plumbing.ErrObjectNotFound)
}
