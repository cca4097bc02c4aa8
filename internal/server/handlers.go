package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/visaroom/internal/decision"
	"github.com/MrWong99/visaroom/internal/exchange"
	"github.com/MrWong99/visaroom/internal/interview"
	"github.com/MrWong99/visaroom/internal/observe"
	"github.com/MrWong99/visaroom/internal/session"
	"github.com/MrWong99/visaroom/internal/speech/wsbridge"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ── stateless API ───────────────────────────────────────────────────────────

type chatRequest struct {
	Message             string                     `json:"message"`
	ConversationHistory []interview.HistoryMessage `json:"conversationHistory"`
	UploadedDocuments   interview.DocumentSet      `json:"uploadedDocuments"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Message is required"})
		return
	}
	history, err := interview.FromHistory(req.ConversationHistory)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid conversation history", Message: err.Error()})
		return
	}

	reply, err := s.replier.Reply(r.Context(), exchange.Request{
		Documents: req.UploadedDocuments,
		History:   history,
		Message:   req.Message,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("chat reply failed", "kind", exchange.ErrorKind(err), "error", err)
		writeJSON(w, replyStatus(err), errorBody{Error: "Failed to get response", Message: exchange.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

// replyStatus maps an exchange failure onto an HTTP status.
func replyStatus(err error) int {
	switch exchange.ErrorKind(err) {
	case "quota":
		return http.StatusTooManyRequests
	case "overloaded", "circuit_open", "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type analyzeRequest struct {
	ConversationHistory []interview.HistoryMessage `json:"conversationHistory"`
	UploadedDocuments   interview.DocumentSet      `json:"uploadedDocuments"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	entries, err := interview.FromHistory(req.ConversationHistory)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Failed to analyze interview", Message: err.Error()})
		return
	}
	v := decision.Evaluate(entries, req.UploadedDocuments, s.decision())
	s.metrics.RecordVerdict(r.Context(), string(v.Decision))
	writeJSON(w, http.StatusOK, v)
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	BackendStatus
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "OK",
		Message:       "Server is running",
		BackendStatus: s.status(),
	})
}

// ── session API ─────────────────────────────────────────────────────────────

type documentsRequest struct {
	Documents         interview.DocumentSet `json:"documents"`
	UploadedDocuments interview.DocumentSet `json:"uploadedDocuments"`
}

// merged folds both accepted keys into one set. A request without either key
// yields nil, which means no upload step happened.
func (d documentsRequest) merged() interview.DocumentSet {
	if d.Documents == nil && d.UploadedDocuments == nil {
		return nil
	}
	return d.UploadedDocuments.Merge(d.Documents)
}

type sessionResponse struct {
	ID         string                `json:"id"`
	State      session.State         `json:"state"`
	Paused     bool                  `json:"paused"`
	Documents  interview.DocumentSet `json:"documents"`
	Transcript []interview.Entry     `json:"transcript"`
	Notices    []session.Notice      `json:"notices,omitempty"`
}

func snapshot(c *session.Controller) sessionResponse {
	t := c.Transcript()
	if t == nil {
		t = []interview.Entry{}
	}
	return sessionResponse{
		ID:         c.ID(),
		State:      c.State(),
		Paused:     c.Paused(),
		Documents:  c.Documents(),
		Transcript: t,
		Notices:    c.Notices(),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req documentsRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	c, err := s.sessions.Create(req.merged())
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "Too many interviews in progress", Message: err.Error()})
			return
		}
		observe.Logger(r.Context()).Error("create session failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to create session"})
		return
	}
	w.Header().Set("Location", "/api/sessions/"+c.ID())
	writeJSON(w, http.StatusCreated, snapshot(c))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req documentsRequest
	if !s.decode(w, r, &req) {
		return
	}
	docs := req.merged()
	if len(docs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No documents in request"})
		return
	}
	if err := c.AddDocuments(docs); err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: "Interview has ended", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot(c))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	c.End()
	s.writeVerdict(w, c)
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeVerdict(w, c)
}

func (s *Server) writeVerdict(w http.ResponseWriter, c *session.Controller) {
	v, err := c.Verdict()
	if errors.Is(err, session.ErrNotEnded) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "Interview has not ended", Message: "state " + c.State().String()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to analyze interview", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := interview.Export(&buf, c.Transcript()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to export transcript", Message: err.Error()})
		return
	}
	name := interview.ExportFilename(time.Now())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept already wrote the response.
		observe.SessionLogger(r.Context(), c.ID()).Warn("websocket accept failed", "error", err)
		return
	}
	if err := wsbridge.Serve(r.Context(), conn, c, wsbridge.WithMetrics(s.metrics)); err != nil {
		observe.SessionLogger(r.Context(), c.ID()).Warn("speech bridge failed", "error", err)
	}
}

// ── helpers ─────────────────────────────────────────────────────────────────

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	c, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Session not found"})
		return nil, false
	}
	return c, true
}

// decode reads a JSON body into v and answers 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body", Message: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
