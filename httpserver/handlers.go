package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/sandbox"
)

// Response headers describing an execution
const (
	HeaderOutcome   = "X-Run-Outcome"
	HeaderRequestID = "X-Request-Id"
)

// OutcomeError marks responses that carry no execution result
const OutcomeError = "error"

// busyRetryAfter is the Retry-After sent with 503 responses, in seconds
const busyRetryAfter = 5

type runRequest struct {
	Code string `json:"code"`
}

type executeRequest struct {
	Language   string `json:"language"`
	Code       string `json:"code"`
	TimeoutSec int    `json:"timeout_sec"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// decodeJSON reads a JSON body into v and returns the status to report
// when it cannot
func decodeJSON(r *http.Request, v any) (int, error) {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, errors.New("invalid JSON body: " + err.Error())
	}
	return http.StatusOK, nil
}

// errorStatus maps an Execute error to an HTTP status
func errorStatus(err error) int {
	switch {
	case sandbox.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, sandbox.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleExecuteError reports an Execute error. It returns silently when the
// client has gone away.
func (s *Server) handleExecuteError(w http.ResponseWriter, r *http.Request, err error, asJSON bool) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Info("client disconnected during execution", zap.String("path", r.URL.Path))
		return
	}

	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("sandbox execution failed", zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(busyRetryAfter))
	}

	w.Header().Set(HeaderOutcome, OutcomeError)
	if asJSON {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeText(w, status, err.Error())
}

// handleRun answers with the program's stdout as plain text, or a readable
// failure message with status 500
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if status, err := decodeJSON(r, &req); err != nil {
		w.Header().Set(HeaderOutcome, OutcomeError)
		writeText(w, status, err.Error())
		return
	}

	result, err := s.executor.Execute(r.Context(), sandbox.ExecuteRequest{
		Language: chi.URLParam(r, "language"),
		Code:     req.Code,
	})
	if err != nil {
		s.handleExecuteError(w, r, err, false)
		return
	}

	w.Header().Set(HeaderOutcome, string(result.Status))
	w.Header().Set(HeaderRequestID, result.RequestID)

	if result.Status != sandbox.StatusSuccess {
		writeText(w, http.StatusInternalServerError, result.FailureMessage())
		return
	}
	writeText(w, http.StatusOK, result.Stdout)
}

// handleExecute answers with the full execution report as JSON
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if status, err := decodeJSON(r, &req); err != nil {
		w.Header().Set(HeaderOutcome, OutcomeError)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.executor.Execute(r.Context(), sandbox.ExecuteRequest{
		Language: req.Language,
		Code:     req.Code,
		Deadline: time.Duration(req.TimeoutSec) * time.Second,
	})
	if err != nil {
		s.handleExecuteError(w, r, err, true)
		return
	}

	w.Header().Set(HeaderOutcome, string(result.Status))
	w.Header().Set(HeaderRequestID, result.RequestID)

	status := http.StatusOK
	if result.Status != sandbox.StatusSuccess {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result.Report())
}
