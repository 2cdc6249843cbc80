package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"churn-dashboard/internal/handlers"
	"churn-dashboard/internal/services"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *services.Report) {
	t.Helper()
	a := services.NewAnalytics(services.Options{Logger: quietLogger()})
	csv := "Customer Name,Entity grouped,Jan-24,Apr-24\nAcme,EU,100,150\nBeta,US,50,\n"
	report, err := a.Analyze(context.Background(), strings.NewReader(csv), "seed.csv")
	if err != nil {
		t.Fatal(err)
	}
	dashboard := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>dashboard</html>")
	}
	return NewServer(a, nil, handlers.APIOptions{}, quietLogger(), &TemplateHandlers{Dashboard: dashboard}), report
}

func TestServer_Routes(t *testing.T) {
	srv, report := newTestServer(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/admin/stats", http.StatusOK},
		{http.MethodGet, "/api/datasets", http.StatusOK},
		{http.MethodGet, "/api/datasets/" + report.ID, http.StatusOK},
		{http.MethodGet, "/api/datasets/latest/tables/revenue-q1", http.StatusOK},
		{http.MethodGet, "/api/datasets/latest/tables/revenue-q1/csv", http.StatusOK},
		{http.MethodGet, "/api/datasets/latest/tables/missing", http.StatusNotFound},
		{http.MethodGet, "/sse/datasets/latest/tables", http.StatusOK},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
		{http.MethodDelete, "/api/datasets", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestServer_Upload(t *testing.T) {
	srv, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "new.csv")
	io.WriteString(part, "Customer Name,Entity grouped,Jul-24\nCobalt,EU,5\n")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/datasets", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/datasets/latest", nil))
	if !strings.Contains(w.Body.String(), "new.csv") {
		t.Errorf("latest dataset should be the upload: %s", w.Body.String())
	}
}

func TestServer_AskWithoutQA(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/datasets/latest/ask", strings.NewReader(`{"question":"q"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGracefulServer_ContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	httpServer := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	gs := NewGracefulServer(httpServer, quietLogger(), time.Second)

	hookRan := make(chan struct{})
	gs.RegisterShutdownHook(func(ctx context.Context) error {
		close(hookRan)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.ListenAndServe(ctx) }()

	// Wait for the listener.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	select {
	case <-hookRan:
	default:
		t.Error("shutdown hook should have run")
	}
}

func TestGracefulServer_HookErrors(t *testing.T) {
	gs := NewGracefulServer(&http.Server{}, quietLogger(), time.Second)
	boom := errors.New("boom")
	gs.RegisterShutdownHook(func(ctx context.Context) error { return boom })

	if err := gs.Shutdown(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Shutdown() error = %v, want boom", err)
	}
}
