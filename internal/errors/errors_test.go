package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeSchema, http.StatusUnprocessableEntity},
		{CodeNotFound, http.StatusNotFound},
		{CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeRateLimit, http.StatusTooManyRequests},
		{CodeServiceUnavail, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").StatusCode; got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestSchema_ExposesCause(t *testing.T) {
	cause := stderrors.New("missing required columns: Region")
	err := Schema(cause)

	if err.Details != cause.Error() {
		t.Errorf("Details = %q", err.Details)
	}
	if !stderrors.Is(err, cause) {
		t.Error("Schema error should unwrap to its cause")
	}
}

func decode(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestWriteError_AppError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := httptest.NewRecorder()

	WriteError(w, logger, NotFound("Dataset not found"), "req-1")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
	resp := decode(t, w.Body)
	if resp.Success || resp.Error.Code != CodeNotFound || resp.Error.RequestID != "req-1" {
		t.Errorf("unexpected response %+v", resp.Error)
	}
}

func TestWriteError_WrappedAppError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := httptest.NewRecorder()

	err := fmt.Errorf("handler: %w", PayloadTooLarge(10))
	WriteError(w, logger, err, "")

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestWriteError_PlainErrorIsInternal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := httptest.NewRecorder()

	WriteError(w, logger, stderrors.New("disk on fire"), "")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
	resp := decode(t, w.Body)
	if resp.Error.Message == "disk on fire" {
		t.Error("internal error message must not be exposed")
	}
}

func TestWriteStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteStatus(w, http.StatusCreated, map[string]string{"id": "abc"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	var resp struct {
		Data    map[string]string `json:"data"`
		Success bool              `json:"success"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data["id"] != "abc" {
		t.Errorf("unexpected body %+v", resp)
	}
}
