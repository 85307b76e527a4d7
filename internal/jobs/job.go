package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskherder/internal/config"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyDrain   = 1 << 20
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// Job is a validated, ready-to-run job definition.
type Job struct {
	Name     string
	Schedule string
	Kind     string
	Queue    string
	Cost     float64
	Timeout  time.Duration

	// AllowOverlap permits a new run while the previous one is unsettled.
	AllowOverlap bool

	// http
	URL          string
	Method       string
	ExpectStatus int

	// sleep
	Sleep time.Duration
}

// Result is what one run reports back.
type Result struct {
	Status int   // HTTP status; 0 for sleep jobs
	Bytes  int64 // response bytes read (capped)
	Took   time.Duration
}

// FromConfig parses jc. The queue key defaults to the lower-cased URL host
// (without port) so every job polling the same device shares one queue.
func FromConfig(jc config.JobConfig) (Job, error) {
	path := "jobs." + jc.Name
	timeout, err := config.ParseDurationOrDefault(path+".timeout", jc.Timeout, defaultTimeout)
	if err != nil {
		return Job{}, err
	}
	j := Job{
		Name:     strings.TrimSpace(jc.Name),
		Schedule: strings.TrimSpace(jc.Schedule),
		Kind:     jc.KindOrDefault(),
		Queue:    strings.ToLower(strings.TrimSpace(jc.Queue)),
		Cost:     jc.EffectiveCost(),
		Timeout:  timeout,

		AllowOverlap: jc.AllowOverlap,
	}

	switch j.Kind {
	case config.JobKindHTTP:
		u, err := url.Parse(strings.TrimSpace(jc.URL))
		if err != nil || u.Host == "" {
			return Job{}, fmt.Errorf("%s.url: must be an absolute http(s) URL", path)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return Job{}, fmt.Errorf("%s.url: unsupported scheme %q", path, u.Scheme)
		}
		j.URL = u.String()
		j.Method = strings.ToUpper(strings.TrimSpace(jc.Method))
		if j.Method == "" {
			j.Method = http.MethodGet
		}
		j.ExpectStatus = jc.ExpectStatus
		if j.Queue == "" {
			j.Queue = strings.ToLower(u.Hostname())
		}
	case config.JobKindSleep:
		d, err := config.ParseDurationField(path+".duration", jc.Duration)
		if err != nil {
			return Job{}, err
		}
		j.Sleep = d
		if j.Queue == "" {
			return Job{}, fmt.Errorf("%s.queue: required for sleep jobs", path)
		}
	default:
		return Job{}, fmt.Errorf("%s.kind: unknown kind %q", path, jc.Kind)
	}
	return j, nil
}

// Work returns the function to submit for one run of j.
func (j Job) Work(client *http.Client) func(ctx context.Context) (Result, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		start := time.Now()
		var (
			res Result
			err error
		)
		switch j.Kind {
		case config.JobKindSleep:
			err = sleep(ctx, j.Sleep)
		default:
			res, err = j.probe(ctx, client)
		}
		res.Took = time.Since(start)
		return res, err
	}
}

func (j Job) probe(ctx context.Context, client *http.Client) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, j.Method, j.URL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", "herder")
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyDrain))
	res := Result{Status: resp.StatusCode, Bytes: n}
	if !j.statusOK(resp.StatusCode) {
		return res, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return res, nil
}

func (j Job) statusOK(code int) bool {
	if j.ExpectStatus != 0 {
		return code == j.ExpectStatus
	}
	return code >= 200 && code < 300
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
