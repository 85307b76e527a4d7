package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskherder/pkg/logx"
)

func waitForAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := s.Addr(); addr != "" {
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("admin server never bound")
	return ""
}

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	src := Sources{
		Status: func() any { return map[string]int{"queues": 2} },
		Runs: func(ctx context.Context, job string, limit int) (any, error) {
			return map[string]any{"job": job, "limit": limit}, nil
		},
	}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t0k"}, src, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Start(ctx)
	base := "http://" + waitForAddr(t, s)

	if code, body := get(t, base+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, _ := get(t, base+"/status", ""); code != http.StatusUnauthorized {
		t.Fatalf("/status without token = %d", code)
	}
	code, body := get(t, base+"/status", "t0k")
	if code != http.StatusOK {
		t.Fatalf("/status = %d", code)
	}
	var status map[string]int
	if err := json.Unmarshal([]byte(body), &status); err != nil || status["queues"] != 2 {
		t.Fatalf("/status body = %q (%v)", body, err)
	}
	if code, body := get(t, base+"/runs?job=ping&limit=3&token=t0k", ""); code != http.StatusOK || body == "" {
		t.Fatalf("/runs = %d %q", code, body)
	}
	if code, _ := get(t, base+"/runs?limit=0", "t0k"); code != http.StatusBadRequest {
		t.Fatalf("/runs limit=0 = %d", code)
	}
	if code, _ := get(t, base+"/debug/pprof/", "t0k"); code != http.StatusNotFound {
		t.Fatalf("pprof mounted without opt-in: %d", code)
	}

	// Enabling pprof restarts the server with the new handler set.
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	base = "http://" + waitForAddr(t, s)
	if code, _ := get(t, base+"/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("pprof index = %d", code)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if addr := s.Addr(); addr != "" {
		t.Fatalf("server still bound at %s after disable", addr)
	}
}

func TestRunsUnavailable(t *testing.T) {
	t.Parallel()
	src := Sources{Runs: func(context.Context, string, int) (any, error) {
		return nil, fmt.Errorf("%w: no history", ErrUnavailable)
	}}
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, src, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	base := "http://" + waitForAddr(t, s)
	if code, _ := get(t, base+"/runs", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("/runs = %d, want 503", code)
	}
	if code, _ := get(t, base+"/status", ""); code != http.StatusNotFound {
		t.Fatalf("/status without source = %d, want 404", code)
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil {
		t.Fatalf("non-loopback bind without token accepted")
	}
}

func TestWithAuth(t *testing.T) {
	t.Parallel()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	h := withAuth("s3cret", ok)
	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"none", "/", "", http.StatusUnauthorized},
		{"query", "/?token=s3cret", "", http.StatusNoContent},
		{"bad query", "/?token=nope", "Bearer s3cret", http.StatusUnauthorized},
		{"bearer", "/", "Bearer s3cret", http.StatusNoContent},
		{"basic", "/", "Basic s3cret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: code = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6061": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6061":          false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
