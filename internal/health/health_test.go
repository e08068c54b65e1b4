package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "never", Check: failWith("down")})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("body = %+v, want ok without checks", body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "config", Check: ok}, {Name: "live", Check: ok}},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"config": "ok", "live": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "config", Check: ok}, {Name: "assist", Check: failWith("no healthy backend")}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"config": "ok", "assist": "fail: no healthy backend"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{Name: "config", Check: failWith("not loaded")}, {Name: "live", Check: failWith("no provider")}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"config": "fail: not loaded", "live": "fail: no provider"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tc.checkers...), context.Background())
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			if body.Status != tc.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantBody)
			}
			if len(body.Checks) != len(tc.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tc.wantChecks)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RunsCheckersConcurrently(t *testing.T) {
	t.Parallel()
	var running atomic.Int32
	release := make(chan struct{})
	slow := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body := readyz(t, h, ctx)
	if code != http.StatusOK {
		t.Fatalf("status = %d, checks = %v; checkers did not overlap", code, body.Checks)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := readyz(t, h, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

type toolSource []assist.Kind

func (s toolSource) Unavailable() []assist.Kind { return s }

func TestTools(t *testing.T) {
	t.Parallel()
	if err := Tools(toolSource(nil)).Check(context.Background()); err != nil {
		t.Errorf("all tools healthy: %v", err)
	}
	err := Tools(toolSource{assist.KindImage}).Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "image") {
		t.Errorf("err = %v, want failure naming image", err)
	}
}

func TestRequired(t *testing.T) {
	t.Parallel()
	var v *int
	c := Required("config", func() *int { return v })
	if c.Name != "config" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("nil value passed the check")
	}
	v = new(int)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("loaded value failed the check: %v", err)
	}
}
