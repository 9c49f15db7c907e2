package supervisor

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCountProcessingSlots(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"nested bool", `{"slots":[{"is_processing":true},{"state":"idle"}]}`, 1},
		{"bare int", `[{"is_processing":1}]`, 1},
		{"unrecognised object", `{}`, 0},
		{"zero int", `[{"is_processing":0}]`, 0},
		{"state labels", `[{"state":"processing"},{"state":"running"},{"state":"active"},{"state":"idle"}]`, 3},
		{"state labels are case sensitive", `[{"state":"RUNNING"},{"state":"Active"}]`, 0},
		{"mixed encodings count once", `[{"is_processing":true,"state":"processing"}]`, 1},
		{"false flag with active state", `[{"is_processing":false,"state":"active"}]`, 1},
		{"slots not array", `{"slots":{"a":1}}`, 0},
		{"scalar", `42`, 0},
		{"invalid json", `not json`, 0},
		{"non-object entries", `[1,"x",null,{"is_processing":2}]`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountProcessingSlots([]byte(tc.body)); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestActiveRequestsHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slots" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"slots":[{"is_processing":true},{"is_processing":true},{"state":"idle"}]}`))
	}))
	defer srv.Close()
	s := supervisorFor(t, srv.URL)
	n, err := s.ActiveRequests(testCtx(t))
	if err != nil {
		t.Fatalf("ActiveRequests: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestActiveRequestsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slots disabled", http.StatusNotImplemented)
	}))
	defer srv.Close()
	s := supervisorFor(t, srv.URL)
	if _, err := s.ActiveRequests(testCtx(t)); err == nil {
		t.Fatalf("expected error for non-2xx")
	}
}

func TestActiveRequestsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	s := supervisorFor(t, srv.URL)
	s.cfg.SlotsTimeout = 100 * time.Millisecond
	start := time.Now()
	if _, err := s.ActiveRequests(testCtx(t)); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("slots request not bounded by its timeout")
	}
}

func TestHealthCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	s := supervisorFor(t, srv.URL)
	if !s.HealthCheck(testCtx(t)) {
		t.Fatalf("expected healthy on 200")
	}
	status.Store(http.StatusServiceUnavailable)
	if s.HealthCheck(testCtx(t)) {
		t.Fatalf("expected unhealthy on 503")
	}
	srv.Close()
	if s.HealthCheck(testCtx(t)) {
		t.Fatalf("expected unhealthy when unreachable")
	}
}
