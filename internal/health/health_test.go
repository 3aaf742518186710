package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New(Checker{Name: "cart", Check: failWith("down")})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v, want 200 ok", code, body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "cart", Check: ok},
				{Name: "llm", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"cart": "ok", "llm": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "cart", Check: failWith("connection refused")},
				{Name: "llm", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"cart": "fail: connection refused", "llm": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "stt", Check: failWith("no provider available")},
				{Name: "tts", Check: failWith("timeout")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"stt": "fail: no provider available", "tts": "fail: timeout"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := serve(t, New(tc.checkers...), "/readyz")
			if code != tc.wantCode {
				t.Errorf("status code = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(
		Checker{Name: "cart", Check: slow},
		Checker{Name: "llm", Check: slow},
		Checker{Name: "stt", Check: slow},
		Checker{Name: "tts", Check: slow},
	)

	start := time.Now()
	code, _ := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if elapsed := time.Since(start); elapsed >= 700*time.Millisecond {
		t.Errorf("readyz took %v, checks should overlap", elapsed)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyz_Draining(t *testing.T) {
	called := false
	h := New(Checker{Name: "cart", Check: func(context.Context) error {
		called = true
		return nil
	}})

	h.SetDraining(true)
	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("draining readyz = %d %+v, want 503 draining", code, body)
	}
	if called {
		t.Error("checkers should not run while draining")
	}
	if code, _ := serve(t, h, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want 200", code)
	}

	h.SetDraining(false)
	if code, _ := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("readyz after draining = %d, want 200", code)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	h := New(
		PingChecker("cart", fakePinger{}),
		PingChecker("redis", fakePinger{err: errors.New("connection refused")}),
	)

	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["cart"] != "ok" {
		t.Errorf("cart check = %q, want ok", body.Checks["cart"])
	}
	if body.Checks["redis"] != "fail: connection refused" {
		t.Errorf("redis check = %q", body.Checks["redis"])
	}
}
