package utils

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandlerMiddleware recovers panics and writes the error a handler
// reported through SetError.
func ErrorHandlerMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("HTTP handler panic",
					zap.Any("error", err),
					zap.String("stack", string(debug.Stack())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("ip", r.RemoteAddr),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		r = WithErrorSlot(r)
		next.ServeHTTP(w, r)

		if errCtx := GetErrorContext(r.Context()); errCtx != nil {
			fields := []zap.Field{
				zap.Error(errCtx.Error),
				zap.Int("code", errCtx.Code),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("requestId", errCtx.RequestID),
			}
			if errCtx.Code >= http.StatusInternalServerError {
				logger.Error("Request error", fields...)
			} else {
				logger.Debug("Request rejected", fields...)
			}
			WriteError(w, r)
		}
	})
}

// RequestIDMiddleware sets an X-Request-ID on every response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = GenerateRequestID()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// GenerateRequestID returns a millisecond timestamp with a random suffix.
func GenerateRequestID() string {
	return fmt.Sprintf("%d-%s", GetTimestamp(), RandomString(8))
}

// GetTimestamp returns the current time in milliseconds.
func GetTimestamp() int64 {
	return GetTimeNow().UnixMilli()
}

// RandomString returns length random alphanumerics.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[RandomIntn(len(charset))]
	}
	return string(result)
}
