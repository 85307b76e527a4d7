package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskherder/internal/config"
)

func cost(v float64) *float64 { return &v }

func TestFromConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        config.JobConfig
		wantQueue string
		wantCost  float64
		wantErr   string
	}{
		{
			name:      "http defaults",
			in:        config.JobConfig{Name: "a", Schedule: "1m", URL: "http://Device-A.local:8080/status"},
			wantQueue: "device-a.local",
			wantCost:  1,
		},
		{
			name:      "explicit queue and cost",
			in:        config.JobConfig{Name: "b", Schedule: "1m", Kind: "http", URL: "https://x.example/", Queue: "Shared", Cost: cost(0)},
			wantQueue: "shared",
			wantCost:  0,
		},
		{
			name:      "sleep",
			in:        config.JobConfig{Name: "c", Schedule: "1m", Kind: "sleep", Duration: "10ms", Queue: "local"},
			wantQueue: "local",
			wantCost:  1,
		},
		{name: "relative url", in: config.JobConfig{Name: "d", URL: "/status"}, wantErr: "jobs.d.url"},
		{name: "ftp", in: config.JobConfig{Name: "e", URL: "ftp://host/x"}, wantErr: "unsupported scheme"},
		{name: "sleep without queue", in: config.JobConfig{Name: "f", Kind: "sleep", Duration: "1s"}, wantErr: "jobs.f.queue"},
		{name: "bad timeout", in: config.JobConfig{Name: "g", URL: "http://h/", Timeout: "soon"}, wantErr: "jobs.g.timeout"},
		{name: "unknown kind", in: config.JobConfig{Name: "h", Kind: "ssh"}, wantErr: "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, err := FromConfig(tt.in)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromConfig: %v", err)
			}
			if j.Queue != tt.wantQueue || j.Cost != tt.wantCost {
				t.Fatalf("queue=%q cost=%v, want %q %v", j.Queue, j.Cost, tt.wantQueue, tt.wantCost)
			}
			if j.Timeout != defaultTimeout {
				t.Fatalf("timeout = %v, want default", j.Timeout)
			}
		})
	}
}

func TestHTTPWork(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Method != http.MethodHead && r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			_, _ = w.Write([]byte("hello"))
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))
	// Subtests run in parallel after this function returns.
	t.Cleanup(srv.Close)

	tests := []struct {
		name       string
		path       string
		expect     int
		timeout    string
		wantStatus int
		wantErr    error
	}{
		{name: "2xx", path: "/ok", wantStatus: 200},
		{name: "404", path: "/missing", wantStatus: 404, wantErr: ErrUnexpectedStatus},
		{name: "expected teapot", path: "/teapot", expect: 418, wantStatus: 418},
		{name: "expected but got 200", path: "/ok", expect: 204, wantStatus: 200, wantErr: ErrUnexpectedStatus},
		{name: "timeout", path: "/slow", timeout: "50ms", wantErr: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, err := FromConfig(config.JobConfig{Name: tt.name, URL: srv.URL + tt.path, ExpectStatus: tt.expect, Timeout: tt.timeout})
			if err != nil {
				t.Fatalf("FromConfig: %v", err)
			}
			res, err := j.Work(srv.Client())(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if res.Status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.Status, tt.wantStatus)
			}
			if res.Took <= 0 {
				t.Fatalf("took not measured")
			}
		})
	}
}

func TestSleepWork(t *testing.T) {
	t.Parallel()
	j, err := FromConfig(config.JobConfig{Name: "nap", Kind: "sleep", Duration: "20ms", Queue: "local"})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	res, err := j.Work(nil)(context.Background())
	if err != nil || res.Took < 20*time.Millisecond {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	j.Timeout = 10 * time.Millisecond
	j.Sleep = time.Second
	if _, err := j.Work(nil)(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
