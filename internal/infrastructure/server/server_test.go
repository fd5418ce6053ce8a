package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
)

func TestRoutes(t *testing.T) {
	metrics := monitoring.NewMetrics()
	metrics.RecordCreated("port", "local")
	srv := NewServer(config.Default(), nil, metrics, nil)

	tests := []struct {
		path string
		want string
	}{
		{path: "/", want: "kitstat"},
		{path: "/health", want: "healthy"},
		{path: "/debug/resources", want: "resources"},
		{path: "/debug/threads", want: "threads"},
		{path: "/metrics", want: "kernelkit_resources_created_total"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, http.StatusOK, w.Code, tt.path)
		assert.Contains(t, w.Body.String(), tt.want, tt.path)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(config.Default(), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "healthy")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
