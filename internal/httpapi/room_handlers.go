package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hireloop/voiceroom/internal/room"
)

// roomStateResponse is the state surface the front-end renders.
type roomStateResponse struct {
	RoomID      string        `json:"roomId"`
	State       room.Snapshot `json:"state"`
	Destination string        `json:"destination,omitempty"`
}

func (r *Router) stateResponse(id string, ctrl *room.Controller) roomStateResponse {
	resp := roomStateResponse{RoomID: id, State: ctrl.Coordinator().Snapshot()}
	if dest := ctrl.Destination(); dest != nil {
		resp.Destination = dest.Path()
	}
	return resp
}

// handleCreateRoom prepares a new interview room. The optional bearer
// token decides which terminal transition the candidate will get.
func (r *Router) handleCreateRoom(w http.ResponseWriter, req *http.Request) {
	identity, err := r.identityFromRequest(req)
	if err != nil {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	ctrl := r.newRoom(identity)
	id := uuid.NewString()
	if !r.registry.Add(id, ctrl) {
		ctrl.Coordinator().Close()
		http.Error(w, `{"error": "service is shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	ic := ctrl.Prepare(req.Context())
	writeJSON(w, http.StatusCreated, map[string]any{
		"roomId":      id,
		"jobTitle":    ic.JobTitle,
		"companyName": ic.CompanyName,
		"questions":   ic.Questions,
		"state":       ctrl.Coordinator().Snapshot(),
	})
}

func (r *Router) roomFromRequest(w http.ResponseWriter, req *http.Request) (string, *room.Controller, bool) {
	id := req.PathValue("id")
	ctrl, ok := r.registry.Get(id)
	if !ok {
		http.Error(w, `{"error": "room not found"}`, http.StatusNotFound)
		return "", nil, false
	}
	return id, ctrl, true
}

// handleStartRoom begins the voice session.
func (r *Router) handleStartRoom(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}

	var form room.StartForm
	if err := json.NewDecoder(req.Body).Decode(&form); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := ctrl.Coordinator().Start(req.Context(), form); err != nil {
		if errors.Is(err, room.ErrSessionActive) {
			http.Error(w, `{"error": "session already active"}`, http.StatusConflict)
			return
		}
		captureError(req, err, "failed to open voice session")
		writeJSON(w, http.StatusBadGateway, r.stateResponse(id, ctrl))
		return
	}

	writeJSON(w, http.StatusOK, r.stateResponse(id, ctrl))
}

// handleStopRoom ends the interview and returns where the candidate
// goes next. Safe to call repeatedly; the exit runs once and the room
// stays readable for a grace period before its slot is released.
func (r *Router) handleStopRoom(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}

	dest := ctrl.EndInterview(req.Context())
	resp := r.stateResponse(id, ctrl)
	resp.Destination = dest.Path()
	writeJSON(w, http.StatusOK, resp)

	r.registry.RemoveAfter(id, r.cfg.StopGrace)
}

func (r *Router) handleToggleMute(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}
	ctrl.Coordinator().ToggleMute()
	writeJSON(w, http.StatusOK, r.stateResponse(id, ctrl))
}

func (r *Router) handleToggleCamera(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}
	ctrl.Coordinator().ToggleCamera(req.Context())
	writeJSON(w, http.StatusOK, r.stateResponse(id, ctrl))
}

func (r *Router) handleToggleScreenShare(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}
	ctrl.Coordinator().ToggleScreenShare()
	writeJSON(w, http.StatusOK, r.stateResponse(id, ctrl))
}

func (r *Router) handleRoomState(w http.ResponseWriter, req *http.Request) {
	id, ctrl, ok := r.roomFromRequest(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, r.stateResponse(id, ctrl))
}
