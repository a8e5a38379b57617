package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/obs"
)

func newServer() *Server {
	rec := course.NewSelectionRecord(course.Entry{Code: "CS101", Section: "01", SecuredAt: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)})
	m := obs.NewMetrics()
	m.SetSecured(rec.Len())
	return &Server{
		Record:  rec,
		Metrics: m,
		Status:  func() Status { return Status{State: "waiting", Round: 7, RunID: "run-1"} },
		Log:     zerolog.Nop(),
	}
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newServer().Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Health != "ok" || got.State != "waiting" || got.Round != 7 || got.RunID != "run-1" {
		t.Errorf("health = %+v", got)
	}
}

func TestSelection(t *testing.T) {
	rr := httptest.NewRecorder()
	newServer().Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/selection", nil))

	var got selectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Code != "CS101" || got.RunID != "run-1" {
		t.Errorf("selection = %+v", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestSelection_Empty(t *testing.T) {
	rr := httptest.NewRecorder()
	(&Server{Log: zerolog.Nop()}).Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/selection", nil))
	if !strings.Contains(rr.Body.String(), `"entries":[]`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	newServer().Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "coursegrab_secured_courses 1") {
		t.Errorf("metrics body missing gauge:\n%s", rr.Body.String())
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, addr, newServer().Routes(), zerolog.Nop()) }()

	var res *http.Response
	for i := 0; i < 50; i++ {
		res, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start = %v, want nil after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
