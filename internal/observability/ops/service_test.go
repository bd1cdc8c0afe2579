package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "nudgebot/pkg/logx"
)

func okMetrics() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) })
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRoutesWithToken(t *testing.T) {
	s := New(Config{}, okMetrics(), nil, logx.Nop())
	h := s.routes(Config{Token: "s3cret"})

	require.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics?token=nope", nil).Code)
	require.Equal(t, http.StatusOK, get(t, h, "/metrics?token=s3cret", nil).Code)

	rr := get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "metrics", rr.Body.String())
}

func TestHealthReportsFailure(t *testing.T) {
	healthy := true
	s := New(Config{}, nil, func() error {
		if healthy {
			return nil
		}
		return errors.New("engine closed")
	}, logx.Nop())
	h := s.routes(Config{})

	require.Equal(t, http.StatusOK, get(t, h, "/healthz", nil).Code)
	healthy = false
	rr := get(t, h, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "engine closed")
	require.Equal(t, http.StatusNotFound, get(t, h, "/metrics", nil).Code)
}

func TestPprofIsOptional(t *testing.T) {
	s := New(Config{}, nil, nil, logx.Nop())
	require.Equal(t, http.StatusNotFound, get(t, s.routes(Config{}), "/debug/pprof/", nil).Code)
	require.Equal(t, http.StatusOK, get(t, s.routes(Config{Pprof: true}), "/debug/pprof/", nil).Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.2:9090":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		require.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, okMetrics(), nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	var addr string
	select {
	case addr = <-s.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "metrics", string(body))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	_, err = http.Get("http://" + addr + "/metrics")
	require.Error(t, err)
}
