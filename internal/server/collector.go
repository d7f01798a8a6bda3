package server

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"hecrelay/internal/hec"
	"hecrelay/internal/pipeline"
)

// statusResponse is the collector response body.
type statusResponse struct {
	Text  string `json:"text"`
	Code  int    `json:"code"`
	AckID *int   `json:"ackID,omitempty"`
}

// ackRequest is the acknowledgement-poll request body.
type ackRequest struct {
	Acks []int `json:"acks"`
}

// ackResponse maps each polled id to its acknowledgement state.
type ackResponse struct {
	Acks map[int]bool `json:"acks"`
}

// handleEvent ingests one event batch. The request blocks until the batch
// is verified downstream.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", uuid.NewString())

	body, err := readBody(r.Body, r.Header.Get("Content-Encoding"), s.maxBodyBytes)
	if err != nil {
		logger.Warn("unreadable request body", "error", err)
		writeFault(w, pipeline.FaultInvalidFormat)
		return
	}

	res, err := s.pipeline.Ingest(r.Context(), bytes.NewReader(body), pipeline.Request{
		Token:   extractToken(r),
		Channel: extractChannel(r),
		Origin: hec.Origin{
			ForwardedFor:   r.Header.Get("X-Forwarded-For"),
			ForwardedHost:  r.Header.Get("X-Forwarded-Host"),
			ForwardedProto: r.Header.Get("X-Forwarded-Proto"),
		},
	})
	if err != nil {
		var fault *pipeline.Fault
		if errors.As(err, &fault) {
			writeFault(w, fault)
			return
		}
		// Cancellation mid-delivery: the client went away or the process
		// is shutting down. Nothing useful to send.
		logger.Warn("ingest aborted", "error", err)
		writeFault(w, pipeline.FaultInternal)
		return
	}

	resp := statusResponse{Text: "Success", Code: 0}
	if res.Tracked {
		resp.AckID = &res.AckID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAck answers an acknowledgement poll.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", uuid.NewString())

	body, err := readBody(r.Body, r.Header.Get("Content-Encoding"), s.maxBodyBytes)
	if err != nil {
		logger.Warn("unreadable request body", "error", err)
		writeFault(w, pipeline.FaultInvalidFormat)
		return
	}

	var req ackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeFault(w, pipeline.FaultInvalidFormat)
		return
	}

	status, err := s.pipeline.AckStatus(extractToken(r), extractChannel(r), req.Acks)
	if err != nil {
		var fault *pipeline.Fault
		if errors.As(err, &fault) {
			writeFault(w, fault)
			return
		}
		logger.Error("ack status failed", "error", err)
		writeFault(w, pipeline.FaultInternal)
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{Acks: status})
}

// extractToken resolves the auth token: "Splunk <token>" or a raw value in
// the Authorization header, or the HTTP Basic password.
func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return ""
	}
	if after, ok := strings.CutPrefix(authz, "Splunk "); ok {
		return strings.TrimSpace(after)
	}
	if strings.HasPrefix(authz, "Basic ") {
		if _, password, ok := r.BasicAuth(); ok {
			return password
		}
		return ""
	}
	return authz
}

// extractChannel resolves the channel from the query parameter or the
// request-channel header. Empty means the default channel.
func extractChannel(r *http.Request) string {
	if ch := r.URL.Query().Get("channel"); ch != "" {
		return ch
	}
	return r.Header.Get("X-Splunk-Request-Channel")
}

func writeFault(w http.ResponseWriter, fault *pipeline.Fault) {
	writeJSON(w, fault.Status, statusResponse{Text: fault.Text, Code: fault.Code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
