package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-attendance/internal/identity"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-attendance/internal/session"
)

// ScanRequest is the body of POST /scan and of MQTT scan triggers.
type ScanRequest struct {
	// Sample is the opaque encoding produced by the capture layer.
	Sample string `json:"sample"`
}

// ScanResponse reports the settled outcome of one scan.
type ScanResponse struct {
	session.Outcome
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleScan runs one authentication session and returns its outcome.
//
// A second scan while one is in progress gets 409 session_busy. Every other
// result, including a service failure, is a 200 whose outcome field tells
// matched, no_match and service_error apart.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Sample) == "" {
		writeBadRequest(w, "sample is required")
		return
	}

	outcome, err := s.session.Begin(r.Context(), identity.SampleEncoding(req.Sample))
	if errors.Is(err, session.ErrSessionBusy) {
		writeConflict(w, ErrCodeSessionBusy, "a scan is already in progress")
		return
	}
	if err != nil {
		s.logger.Error("scan failed", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
		writeInternalError(w, "scan failed")
		return
	}

	writeJSON(w, http.StatusOK, ScanResponse{
		Outcome: outcome,
		Success: outcome.Success(),
		Message: outcome.Message(),
	})
}

// handleGetSession returns the current session snapshot.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

// subscribeScanTriggers subscribes to this kiosk's MQTT scan topic. Each
// message starts a session on its own goroutine so the MQTT router is never
// held for the length of a verify call.
func (s *Server) subscribeScanTriggers(ctx context.Context) error {
	if s.mqtt == nil {
		return nil // MQTT not configured; scans come over HTTP only
	}
	if s.deviceID == "" {
		return fmt.Errorf("device ID is required for the scan topic")
	}

	topic := mqtt.Topics{}.KioskScan(s.deviceID)
	s.logger.Info("subscribing to scan triggers", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, func(_ string, payload []byte) error {
		sample, err := parseScanPayload(payload)
		if err != nil {
			return err
		}
		go s.runTriggeredScan(ctx, sample)
		return nil
	})
}

// runTriggeredScan runs a scan that did not come from an HTTP request. The
// outcome reaches the panel through the session observers.
func (s *Server) runTriggeredScan(ctx context.Context, sample identity.SampleEncoding) {
	if _, err := s.session.Begin(ctx, sample); err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			s.logger.Warn("scan trigger ignored, session busy")
			return
		}
		s.logger.Error("scan trigger failed", "error", err)
	}
}

// parseScanPayload accepts a ScanRequest JSON object or a bare sample string.
func parseScanPayload(payload []byte) (identity.SampleEncoding, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return "", fmt.Errorf("empty scan payload")
	}

	if strings.HasPrefix(trimmed, "{") {
		var req ScanRequest
		if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
			return "", fmt.Errorf("decoding scan payload: %w", err)
		}
		if strings.TrimSpace(req.Sample) == "" {
			return "", fmt.Errorf("scan payload has no sample")
		}
		return identity.SampleEncoding(req.Sample), nil
	}

	return identity.SampleEncoding(trimmed), nil
}
