package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/models"
)

// TimerView is the result payload of every timer route.
type TimerView struct {
	State   models.TimerState `json:"state"`
	Status  models.Status     `json:"status"`
	Segment models.Segment    `json:"segment"`
}

func newTimerView(s models.TimerState) TimerView {
	return TimerView{State: s, Status: s.Status(), Segment: s.Segment()}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type taskRequest struct {
	TaskID string `json:"taskId"`
}

// allowMethod writes 405 and returns false when r does not use method.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// decodeBody decodes an optional JSON body into v. An empty body is not an error.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// respondIntent writes the outcome of an engine intent.
func (s *Server) respondIntent(w http.ResponseWriter, op string, err error) {
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(s.engine.Snapshot())))
	case errors.Is(err, engine.ErrRunning), errors.Is(err, engine.ErrNotRunning):
		slog.Debug("Server."+op+": intent rejected", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Rejected(err.Error(), newTimerView(s.engine.Snapshot())))
	case errors.Is(err, engine.ErrInvalidPlan), errors.Is(err, engine.ErrInvalidMode):
		slog.Warn("Server."+op+": invalid request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, engine.ErrClosed):
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(err.Error()))
	default:
		slog.Error("Server."+op+": intent failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

func (s *Server) timerHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(s.engine.Snapshot())))
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.respondIntent(w, "startHandler", s.engine.Start())
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.respondIntent(w, "pauseHandler", s.engine.Pause())
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		slog.Warn("Server.resetHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	var mode *models.Mode
	if req.Mode != "" {
		m, err := models.ParseMode(req.Mode)
		if err != nil {
			s.respondIntent(w, "resetHandler", err)
			return
		}
		mode = &m
	}
	s.respondIntent(w, "resetHandler", s.engine.Reset(mode))
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		slog.Warn("Server.modeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		s.respondIntent(w, "modeHandler", err)
		return
	}
	s.respondIntent(w, "modeHandler", s.engine.ChangeMode(mode))
}

func (s *Server) planHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var update models.PlanUpdate
	if err := decodeBody(r, &update); err != nil {
		slog.Warn("Server.planHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if update.IsEmpty() {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Plan update has no fields"))
		return
	}
	s.respondIntent(w, "planHandler", s.engine.UpdatePlan(update))
}

func (s *Server) taskHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req taskRequest
	if err := decodeBody(r, &req); err != nil {
		slog.Warn("Server.taskHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.respondIntent(w, "taskHandler", s.engine.SetTask(req.TaskID))
}

func (s *Server) hiddenHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.lifecycle != nil {
		s.lifecycle.OnHidden()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(s.engine.Snapshot())))
}

func (s *Server) visibleHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	state := s.engine.Snapshot()
	if s.lifecycle != nil {
		state = s.lifecycle.OnVisible()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(state)))
}

func (s *Server) focusHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	state := s.engine.Snapshot()
	if s.lifecycle != nil {
		state = s.lifecycle.OnFocus()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(state)))
}

func (s *Server) blurHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	state := s.engine.Snapshot()
	if s.lifecycle != nil {
		state = s.lifecycle.OnBlur()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(state)))
}

func (s *Server) unloadHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.lifecycle != nil {
		s.lifecycle.OnUnload()
	} else {
		s.engine.Unload()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newTimerView(s.engine.Snapshot())))
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	state := s.engine.Snapshot()
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"timer":     state.Status(),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
