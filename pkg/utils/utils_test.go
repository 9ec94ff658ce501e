package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorHandlerWritesReportedError(t *testing.T) {
	h := ErrorHandlerMiddleware(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, SetError(r, errors.New("scene not found"), http.StatusNotFound))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/scenes/get?id=x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "scene not found", body["error"])
	assert.Equal(t, "/api/scenes/get", body["path"])
	assert.Equal(t, "req-1", body["request_id"])
}

func TestErrorHandlerRecovers(t *testing.T) {
	h := ErrorHandlerMiddleware(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSetErrorWithoutSlot(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, SetError(r, errors.New("x"), http.StatusBadRequest))
	assert.False(t, HasError(r.Context()))
}

func TestSetErrorMessage(t *testing.T) {
	r := WithErrorSlot(httptest.NewRequest(http.MethodPost, "/", nil))
	require.True(t, SetErrorMessage(r, errors.New("decode: eof"), http.StatusBadRequest, "invalid body"))
	errCtx := GetErrorContext(r.Context())
	require.NotNil(t, errCtx)
	assert.Equal(t, "invalid body", errCtx.Message)
	assert.EqualError(t, errCtx.Error, "decode: eof")
}

func TestRequestID(t *testing.T) {
	old := SetTimeNow(func() time.Time { return time.UnixMilli(1700000000000) })
	defer SetTimeNow(old)
	SetRandomSeed(1)

	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Regexp(t, `^1700000000000-[A-Za-z0-9]{8}$`, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}
