package api

import (
	"errors"

	"querycanvas/internal/builder"
	"querycanvas/internal/dbexec"
	"querycanvas/internal/sessions"
)

// Error codes placed in the GraphQL error extensions.
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeNotFound    = "NOT_FOUND"
	CodeExhausted   = "RESOURCE_EXHAUSTED"
	CodeUnavailable = "UNAVAILABLE"
	CodeInternal    = "INTERNAL"
)

// CodePreviewFailed marks a preview the database refused or could not finish.
const CodePreviewFailed = "PREVIEW_FAILED"

// ErrPreviewDisabled reports a preview request when no database is configured.
var ErrPreviewDisabled = errors.New("previews are not enabled")

// codedError satisfies gqlerrors.ExtendedError so clients can branch on code.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func (e *codedError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.code}
}

// classify attaches a code to err. Anything not recognized is a caller error:
// the query, builder and command packages reject input with sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return err
	}
	code := CodeBadRequest
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		code = CodeNotFound
	case errors.Is(err, sessions.ErrTooManySessions):
		code = CodeExhausted
	case errors.Is(err, ErrPreviewDisabled):
		code = CodeUnavailable
	case errors.Is(err, builder.ErrInvariant):
		code = CodeInternal
	case errors.Is(err, dbexec.ErrEmptyQuery):
		code = CodeBadRequest
	}
	return &codedError{code: code, err: err}
}
