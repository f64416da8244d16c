package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(Replace(zap.New(core, zap.AddCaller())))
	return logs
}

func TestCallerReportedForHelpersAndDirectUse(t *testing.T) {
	logs := observe(t)

	Info("via helper")
	L().Info("via global")
	WithContext(context.Background()).Info("via context")
	WithContext(WithRequestID(context.Background(), "r1")).Info("via request")

	entries := logs.All()
	require.Len(t, entries, 4)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "logging_test.go", filepath.Base(e.Caller.File), e.Message)
	}
	assert.Equal(t, "r1", entries[3].ContextMap()["request_id"])
}

func TestReplaceRestores(t *testing.T) {
	prev := L()
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	Warn("captured")
	restore()
	Warn("not captured")

	assert.Same(t, prev, L())
	assert.Equal(t, 1, logs.FilterMessage("captured").Len())
	assert.Zero(t, logs.FilterMessage("not captured").Len())
}

func TestMiddlewareTagsRequests(t *testing.T) {
	logs := observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WithContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	inside := logs.FilterMessage("inside").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "abc", inside[0].ContextMap()["request_id"])

	done := logs.FilterMessage("request completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(http.StatusTeapot), done[0].ContextMap()["status"])
}
