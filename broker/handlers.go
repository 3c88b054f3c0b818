package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ArcaView/qualifyr/auth"
	"github.com/ArcaView/qualifyr/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handlers provides the HTTP surface of the session broker. All handlers
// assume auth.RequireAuth ran first and a user is in the request context.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates new broker handlers.
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RequestHandler handles POST /api/impersonation/requests.
func (h *Handlers) RequestHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	var req types.ImpersonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	session, err := h.manager.RequestSession(ctx, user, req)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, types.ImpersonationRequestResponse{
		Message: "Impersonation requested, awaiting approval",
		Session: session,
	})
}

// ListHandler handles GET /api/impersonation/sessions.
func (h *Handlers) ListHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	sessions, err := h.manager.ListSessions(ctx, user)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.SessionListResponse{Sessions: sessions})
}

// GetHandler handles GET /api/impersonation/sessions/{id}.
func (h *Handlers) GetHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, err := h.manager.GetSession(ctx, user, id)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// ApproveHandler handles POST /api/impersonation/sessions/{id}/approve.
func (h *Handlers) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Approve)
}

// RejectHandler handles POST /api/impersonation/sessions/{id}/reject.
func (h *Handlers) RejectHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Reject)
}

// EndHandler handles POST /api/impersonation/sessions/{id}/end.
func (h *Handlers) EndHandler(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.End)
}

// LogActionHandler handles POST /api/impersonation/sessions/{id}/actions.
func (h *Handlers) LogActionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req types.SessionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	if err := h.manager.LogAction(ctx, user, id, req); err != nil {
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Action recorded"})
}

// AuditHandler handles GET /api/impersonation/sessions/{id}/audit.
func (h *Handlers) AuditHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	records, err := h.manager.AuditTrail(ctx, user, id)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.AuditListResponse{SessionID: id, Records: records})
}

func (h *Handlers) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, caller *types.User, id uuid.UUID) (*types.ImpersonationSession, error),
) {
	ctx := r.Context()
	user := auth.GetUserFromContext(ctx)

	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	session, err := op(ctx, user, id)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		types.WriteHTTPError(w, types.NewHTTPError(http.StatusBadRequest, "Invalid session id", err))
		return uuid.Nil, false
	}
	return id, true
}

// writeBrokerError maps a manager error to its HTTP status, reusing the
// error text as the user-facing message for the taxonomy errors.
func writeBrokerError(w http.ResponseWriter, err error) {
	code := types.HTTPStatusFor(err)
	msg := "Internal server error"
	if code != http.StatusInternalServerError {
		msg = err.Error()
	}

	var herr types.HTTPError
	if errors.As(err, &herr) {
		types.WriteHTTPError(w, herr)
		return
	}
	types.WriteHTTPError(w, types.NewHTTPError(code, msg, err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
