package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/scheduler"
)

type adjustmentService interface {
	Start(ctx context.Context, params application.StartAdjustmentParams) (application.AdjustmentView, error)
	Get(ctx context.Context, sessionID string) (application.AdjustmentView, error)
	Move(ctx context.Context, sessionID, eventID string, date time.Time) (application.AdjustmentView, error)
	Resize(ctx context.Context, sessionID, eventID string, minutes int) (application.AdjustmentView, error)
	Edit(ctx context.Context, sessionID, eventID string, location *string, status *scheduler.Status) (application.AdjustmentView, error)
	Remove(ctx context.Context, sessionID, eventID string) (application.AdjustmentView, error)
	SetLocked(ctx context.Context, sessionID string, locked bool) (application.AdjustmentView, error)
	Optimise(ctx context.Context, sessionID string) (application.AdjustmentView, error)
	Reset(ctx context.Context, sessionID string) (application.AdjustmentView, error)
	Changes(ctx context.Context, sessionID string) (scheduler.Changes, error)
	Submit(ctx context.Context, sessionID string) (application.SubmitResult, error)
	Cancel(ctx context.Context, sessionID string) error
}

type AdjustmentHandler struct {
	service   adjustmentService
	validator *requestValidator
	responder responder
}

func NewAdjustmentHandler(service adjustmentService, logger *slog.Logger) *AdjustmentHandler {
	return &AdjustmentHandler{service: service, validator: newRequestValidator(), responder: newResponder(logger)}
}

// Start opens an editing session over one teacher's day.
func (h *AdjustmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req startAdjustmentRequest
	if err := h.validator.decode(w, r, &req); err != nil {
		h.responder.handleRequestError(r.Context(), w, err)
		return
	}

	view, err := h.service.Start(r.Context(), application.StartAdjustmentParams{
		SchoolID:   strings.TrimSpace(req.SchoolID),
		TeacherID:  strings.TrimSpace(req.TeacherID),
		Date:       strings.TrimSpace(req.Date),
		Locked:     req.Locked,
		GapMinutes: req.GapMinutes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toAdjustmentDTO(view))
}

func (h *AdjustmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAdjustmentDTO(view))
}

func (h *AdjustmentHandler) Changes(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	changes, err := h.service.Changes(r.Context(), sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toChangesDTO(changes))
}

// Cancel discards the session's edits and releases the teacher's queue.
func (h *AdjustmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), sessionID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Action dispatches POST /adjustments/{id}/{action}. Every edit answers with
// the refreshed session; submit answers with the persisted counts.
func (h *AdjustmentHandler) Action(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		view application.AdjustmentView
		err  error
	)
	switch action := r.PathValue("action"); action {
	case "move":
		var req moveRequest
		if err := h.validator.decode(w, r, &req); err != nil {
			h.responder.handleRequestError(ctx, w, err)
			return
		}
		view, err = h.service.Move(ctx, sessionID, strings.TrimSpace(req.EventID), parseTime(req.Date))
	case "resize":
		var req resizeRequest
		if err := h.validator.decode(w, r, &req); err != nil {
			h.responder.handleRequestError(ctx, w, err)
			return
		}
		view, err = h.service.Resize(ctx, sessionID, strings.TrimSpace(req.EventID), req.Duration)
	case "edit":
		var req editRequest
		if err := h.validator.decode(w, r, &req); err != nil {
			h.responder.handleRequestError(ctx, w, err)
			return
		}
		var status *scheduler.Status
		if req.Status != nil {
			s := scheduler.Status(*req.Status)
			status = &s
		}
		view, err = h.service.Edit(ctx, sessionID, strings.TrimSpace(req.EventID), req.Location, status)
	case "remove":
		var req eventRequest
		if err := h.validator.decode(w, r, &req); err != nil {
			h.responder.handleRequestError(ctx, w, err)
			return
		}
		view, err = h.service.Remove(ctx, sessionID, strings.TrimSpace(req.EventID))
	case "lock":
		var req lockRequest
		if err := h.validator.decode(w, r, &req); err != nil {
			h.responder.handleRequestError(ctx, w, err)
			return
		}
		view, err = h.service.SetLocked(ctx, sessionID, *req.Locked)
	case "optimise":
		view, err = h.service.Optimise(ctx, sessionID)
	case "reset":
		view, err = h.service.Reset(ctx, sessionID)
	case "submit":
		result, err := h.service.Submit(ctx, sessionID)
		if err != nil {
			h.responder.handleServiceError(ctx, w, err)
			return
		}
		h.responder.writeJSON(ctx, w, http.StatusOK, submitResponse{
			SessionID: result.SessionID,
			Updated:   result.Updated,
			Deleted:   result.Deleted,
		})
		return
	default:
		h.responder.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			ErrorCode: "UNKNOWN_ACTION",
			Message:   "unknown adjustment action: " + action,
		})
		return
	}

	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, http.StatusOK, toAdjustmentDTO(view))
}

func (h *AdjustmentHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	id := pathID(r, "id")
	if id == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingSession)
		return "", false
	}
	return id, true
}

type startAdjustmentRequest struct {
	SchoolID   string `json:"school_id" validate:"required"`
	TeacherID  string `json:"teacher_id" validate:"required"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Locked     *bool  `json:"locked"`
	GapMinutes *int   `json:"gap_minutes" validate:"omitempty,gte=0"`
}

type eventRequest struct {
	EventID string `json:"event_id" validate:"required"`
}

type moveRequest struct {
	EventID string `json:"event_id" validate:"required"`
	Date    string `json:"date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

type resizeRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	Duration int    `json:"duration" validate:"gt=0"`
}

type editRequest struct {
	EventID  string  `json:"event_id" validate:"required"`
	Location *string `json:"location"`
	Status   *string `json:"status" validate:"omitempty,oneof=planned tbc completed uncompleted"`
}

type lockRequest struct {
	Locked *bool `json:"locked" validate:"required"`
}

type optimisationDTO struct {
	Optimised  bool `json:"optimised"`
	Events     int  `json:"events"`
	Misplaced  int  `json:"misplaced"`
	Violations int  `json:"violations"`
}

type adjustmentDTO struct {
	ID           string          `json:"id"`
	SchoolID     string          `json:"school_id"`
	TeacherID    string          `json:"teacher_id"`
	TeacherName  string          `json:"teacher_name"`
	Date         string          `json:"date"`
	Locked       bool            `json:"locked"`
	GapMinutes   int             `json:"gap_minutes"`
	Revision     uint64          `json:"revision"`
	Events       []eventViewDTO  `json:"events"`
	Changes      changesDTO      `json:"changes"`
	Optimisation optimisationDTO `json:"optimisation"`
	Conflicts    []conflictDTO   `json:"conflicts,omitempty"`
	StartedAt    string          `json:"started_at"`
}

func toAdjustmentDTO(view application.AdjustmentView) adjustmentDTO {
	return adjustmentDTO{
		ID:          view.ID,
		SchoolID:    view.SchoolID,
		TeacherID:   view.TeacherID,
		TeacherName: view.TeacherName,
		Date:        view.Date,
		Locked:      view.Locked,
		GapMinutes:  view.GapMinutes,
		Revision:    view.Revision,
		Events:      toEventViewDTOs(view.Events),
		Changes:     toChangesDTO(view.Changes),
		Optimisation: optimisationDTO{
			Optimised:  view.Optimisation.Optimised,
			Events:     view.Optimisation.Events,
			Misplaced:  view.Optimisation.Misplaced,
			Violations: view.Optimisation.Violations,
		},
		Conflicts: toConflictDTOs(view.Conflicts),
		StartedAt: formatTime(view.StartedAt),
	}
}
