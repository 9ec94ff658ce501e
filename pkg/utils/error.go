package utils

import (
	"context"
	"encoding/json"
	"net/http"
)

// Context key type.
type contextKey string

const (
	ErrorContextKey contextKey = "error"
)

// ErrorContext holds the error a handler reported for the current request.
type ErrorContext struct {
	Error     error  `json:"-"`
	Message   string `json:"error"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	Path      string `json:"path"`
	Method    string `json:"method"`
	set       bool
}

// WithErrorSlot installs an empty ErrorContext that handlers fill through
// SetError. ErrorHandlerMiddleware calls it for every request.
func WithErrorSlot(r *http.Request) *http.Request {
	errCtx := &ErrorContext{
		Path:      r.URL.Path,
		Method:    r.Method,
		RequestID: r.Header.Get("X-Request-ID"),
	}
	return r.WithContext(context.WithValue(r.Context(), ErrorContextKey, errCtx))
}

// SetError records err with an HTTP status for the request. It returns false
// when no slot was installed and the caller has to write the response itself.
func SetError(r *http.Request, err error, code int) bool {
	errCtx, ok := r.Context().Value(ErrorContextKey).(*ErrorContext)
	if !ok {
		return false
	}
	errCtx.Error = err
	errCtx.Message = err.Error()
	errCtx.Code = code
	errCtx.set = true
	return true
}

// SetErrorMessage is SetError with a client facing message that differs from
// the logged error.
func SetErrorMessage(r *http.Request, err error, code int, message string) bool {
	if !SetError(r, err, code) {
		return false
	}
	GetErrorContext(r.Context()).Message = message
	return true
}

// GetErrorContext returns the reported error of the request, or nil.
func GetErrorContext(ctx context.Context) *ErrorContext {
	if ctx == nil {
		return nil
	}
	if errCtx, ok := ctx.Value(ErrorContextKey).(*ErrorContext); ok && errCtx.set {
		return errCtx
	}
	return nil
}

// HasError reports whether the request has a reported error.
func HasError(ctx context.Context) bool {
	return GetErrorContext(ctx) != nil
}

// WriteError sends the reported error as JSON.
func WriteError(w http.ResponseWriter, r *http.Request) {
	errCtx := GetErrorContext(r.Context())
	if errCtx == nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errCtx.Code)
	json.NewEncoder(w).Encode(errCtx)
}
