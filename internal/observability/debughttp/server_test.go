package debughttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "homeorch/pkg/logx"
)

func TestApplyEnableDisable(t *testing.T) {
	srv := New(logx.Nop(), func() any { return map[string]int{"armed": 2} })
	t.Cleanup(func() { srv.Stop(context.Background()) })
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	srv.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7})
	addr := srv.Addr()
	require.NotEmpty(t, addr)
	assert.Equal(t, 7, runtime.SetMutexProfileFraction(-1))

	resp, err := http.Get("http://" + addr + "/debug/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got["armed"])

	// same address keeps the listener
	srv.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	assert.Equal(t, addr, srv.Addr())

	srv.Apply(ctx, Config{Enabled: false})
	assert.Empty(t, srv.Addr())
}

func TestStatusHandler(t *testing.T) {
	h := New(logx.Nop(), nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
