package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticQueue int

func (q staticQueue) QueueDepth() int {
	return int(q)
}

func TestGetHealthz(t *testing.T) {
	handler := New(staticQueue(0))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != "ok" {
		t.Errorf("expected body ok, got %s", recorder.Body.String())
	}
}

func TestGetStats(t *testing.T) {
	handler := New(staticQueue(3))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}

	var stats statsResponse
	err := json.Unmarshal(recorder.Body.Bytes(), &stats)
	if err != nil {
		t.Fatalf("unable to decode stats response: %v", err)
	}
	if stats.QueueDepth != 3 {
		t.Errorf("expected queue depth 3, got %d", stats.QueueDepth)
	}
}
