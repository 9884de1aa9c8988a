package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	. "github.com/roelfdiedericks/chatrelay/internal/logging"
	"github.com/roelfdiedericks/chatrelay/internal/media"
	"github.com/roelfdiedericks/chatrelay/internal/metrics"
	"github.com/roelfdiedericks/chatrelay/internal/session"
	"github.com/roelfdiedericks/chatrelay/internal/turnlog"
)

const (
	defaultTurnsLimit = 20
	maxTurnsLimit     = 200
	// Room for the prompt and JSON framing around a base64 image.
	bodyOverhead = 1 << 20
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Prompt      string `json:"prompt"`
	ImagePath   string `json:"image_path,omitempty"`   // file on the server's disk
	ImageBase64 string `json:"image_base64,omitempty"` // raw base64 or a data URL
}

// ChatResponse is the body of a successful POST /v1/chat.
type ChatResponse struct {
	Response     string `json:"response"`
	RequestCount int64  `json:"request_count"`
	Truncated    bool   `json:"truncated"`
	Verdict      string `json:"verdict,omitempty"`
	TurnID       string `json:"turn_id,omitempty"`
	ElapsedMS    int64  `json:"elapsed_ms"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	BrowserReady bool   `json:"browser_ready"`
	RequestCount int64  `json:"request_count"`
	State        string `json:"state"`
	Site         string `json:"site"`
	Queued       int64  `json:"queued"`
	Restarts     int64  `json:"restarts"`
}

// RestartResponse is the body of POST /v1/restart.
type RestartResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	maxBody := s.maxImageBytes()*4/3 + bodyOverhead
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	var req ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.ImagePath != "" && req.ImageBase64 != "" {
		writeError(w, http.StatusBadRequest, "image_path and image_base64 are mutually exclusive")
		return
	}

	sreq := session.Request{Prompt: req.Prompt, ImagePath: req.ImagePath}
	if req.ImageBase64 != "" {
		staged, err := media.StageBase64(s.cfg.UploadDir, req.ImageBase64, s.maxImageBytes())
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, media.ErrTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, err.Error())
			return
		}
		defer staged.Remove()
		sreq.ImagePath = staged.Path
	}

	ans, err := s.svc.Ask(r.Context(), sreq)
	if err != nil {
		if errors.Is(err, session.ErrNotReady) || errors.Is(err, session.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "session not ready")
			return
		}
		L_error("http: turn failed", "error", err, "turn", ans.TurnID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:     ans.Text,
		RequestCount: ans.Requests,
		Truncated:    ans.Truncated,
		Verdict:      ans.Verdict,
		TurnID:       ans.TurnID,
		ElapsedMS:    ans.Elapsed.Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	status := "unavailable"
	if st.Ready {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       status,
		BrowserReady: st.Ready,
		RequestCount: st.Requests,
		State:        st.State,
		Site:         st.Site,
		Queued:       st.Queued,
		Restarts:     st.Restarts,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Restart(r.Context()); err != nil {
		if errors.Is(err, session.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "session not ready")
			return
		}
		L_error("http: restart failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RestartResponse{Status: "ok", Message: "browser restarted"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.GetInstance().GetSnapshot())
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		writeError(w, http.StatusNotFound, "turn history disabled")
		return
	}

	limit := defaultTurnsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnsLimit)
	}

	turns, err := s.turns.Recent(r.Context(), limit)
	if err != nil {
		L_error("http: list turns failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if turns == nil {
		turns = []turnlog.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) maxImageBytes() int64 {
	if s.cfg.MaxImageBytes > 0 {
		return s.cfg.MaxImageBytes
	}
	return media.DefaultMaxBytes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
