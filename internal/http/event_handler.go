package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/scheduler"
)

type eventService interface {
	SubmitChanges(ctx context.Context, params application.SubmitChangesParams) (application.SubmitResult, error)
	UpdateStatus(ctx context.Context, params application.UpdateStatusParams) error
	DeleteEvents(ctx context.Context, params application.DeleteEventsParams) (application.DeleteEventsResult, error)
	CreateEvent(ctx context.Context, params application.CreateEventParams) (application.CreatedEvent, error)
	RevenueBreakdown(ctx context.Context, schoolID, eventID string) (application.RevenueView, error)
}

type EventHandler struct {
	service   eventService
	validator *requestValidator
	responder responder
}

func NewEventHandler(service eventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, validator: newRequestValidator(), responder: newResponder(logger)}
}

// Create adds an event to a lesson. Without "date" the event is placed in the
// teacher's next free slot of "day".
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req createEventRequest
	if err := h.validator.decode(w, r, &req); err != nil {
		h.responder.handleRequestError(r.Context(), w, err)
		return
	}

	created, err := h.service.CreateEvent(r.Context(), req.toParams())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, createdEventResponse{
		ID:         created.Event.ID,
		LessonID:   created.Event.LessonID,
		BookingID:  created.BookingID,
		Start:      formatTime(created.Event.Date),
		End:        formatTime(created.Event.End()),
		Duration:   created.Event.Duration,
		Location:   created.Event.Location,
		Status:     string(created.Event.Status),
		PendingKey: created.PendingKey,
	})
}

// Batch applies a bulk update and deletion as one operation.
func (h *EventHandler) Batch(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req batchRequest
	if err := h.validator.decode(w, r, &req); err != nil {
		h.responder.handleRequestError(r.Context(), w, err)
		return
	}

	result, err := h.service.SubmitChanges(r.Context(), req.toParams())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, submitResponse{Updated: result.Updated, Deleted: result.Deleted})
}

func (h *EventHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req statusRequest
	if err := h.validator.decode(w, r, &req); err != nil {
		h.responder.handleRequestError(r.Context(), w, err)
		return
	}

	if err := h.service.UpdateStatus(r.Context(), application.UpdateStatusParams{
		SchoolID: strings.TrimSpace(req.SchoolID),
		EventIDs: req.EventIDs,
		Status:   scheduler.Status(req.Status),
	}); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req deleteEventsRequest
	if err := h.validator.decode(w, r, &req); err != nil {
		h.responder.handleRequestError(r.Context(), w, err)
		return
	}

	result, err := h.service.DeleteEvents(r.Context(), application.DeleteEventsParams{
		SchoolID: strings.TrimSpace(req.SchoolID),
		EventIDs: req.EventIDs,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deleteEventsResponse{
		Deleted:     append([]string{}, result.Deleted...),
		PendingKeys: append([]string{}, result.PendingKeys...),
	})
}

// Revenue returns the revenue breakdown of one event.
func (h *EventHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	eventID := pathID(r, "id")
	if eventID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingEventID)
		return
	}
	schoolID := strings.TrimSpace(r.URL.Query().Get("school_id"))
	if schoolID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingSchoolID)
		return
	}

	view, err := h.service.RevenueBreakdown(r.Context(), schoolID, eventID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, revenueResponse{
		EventID:   view.EventID,
		LessonID:  view.LessonID,
		BookingID: view.BookingID,
		TeacherID: view.TeacherID,
		Students:  view.Students,
		Revenue:   toRevenueDTO(view.Breakdown),
	})
}

type createEventRequest struct {
	SchoolID string `json:"school_id" validate:"required"`
	LessonID string `json:"lesson_id" validate:"required"`
	Day      string `json:"day" validate:"omitempty,datetime=2006-01-02"`
	Date     string `json:"date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Duration int    `json:"duration" validate:"gte=0"`
	Location string `json:"location"`
	Status   string `json:"status" validate:"omitempty,oneof=planned tbc completed uncompleted"`
}

func (r createEventRequest) toParams() application.CreateEventParams {
	params := application.CreateEventParams{
		SchoolID: strings.TrimSpace(r.SchoolID),
		LessonID: strings.TrimSpace(r.LessonID),
		Day:      strings.TrimSpace(r.Day),
		Duration: r.Duration,
		Location: r.Location,
		Status:   scheduler.Status(r.Status),
	}
	if date := parseTime(r.Date); !date.IsZero() {
		params.Date = &date
	}
	return params
}

type eventUpdateRequest struct {
	ID       string  `json:"id" validate:"required"`
	Date     *string `json:"date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Duration *int    `json:"duration" validate:"omitempty,gt=0"`
	Location *string `json:"location"`
	Status   *string `json:"status" validate:"omitempty,oneof=planned tbc completed uncompleted"`
}

type batchRequest struct {
	SchoolID  string               `json:"school_id" validate:"required"`
	Updates   []eventUpdateRequest `json:"updates" validate:"dive"`
	Deletions []string             `json:"deletions" validate:"dive,required"`
}

func (r batchRequest) toParams() application.SubmitChangesParams {
	params := application.SubmitChangesParams{
		SchoolID:  strings.TrimSpace(r.SchoolID),
		Updates:   make([]application.EventChange, 0, len(r.Updates)),
		Deletions: append([]string(nil), r.Deletions...),
	}
	for _, update := range r.Updates {
		change := application.EventChange{ID: update.ID, Duration: update.Duration, Location: update.Location}
		if update.Date != nil {
			date := parseTime(*update.Date)
			change.Date = &date
		}
		if update.Status != nil {
			status := scheduler.Status(*update.Status)
			change.Status = &status
		}
		params.Updates = append(params.Updates, change)
	}
	return params
}

type statusRequest struct {
	SchoolID string   `json:"school_id" validate:"required"`
	EventIDs []string `json:"event_ids" validate:"required,min=1,dive,required"`
	Status   string   `json:"status" validate:"required,oneof=planned tbc completed uncompleted"`
}

type deleteEventsRequest struct {
	SchoolID string   `json:"school_id" validate:"required"`
	EventIDs []string `json:"event_ids" validate:"required,min=1,dive,required"`
}

type createdEventResponse struct {
	ID         string `json:"id"`
	LessonID   string `json:"lesson_id"`
	BookingID  string `json:"booking_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Duration   int    `json:"duration"`
	Location   string `json:"location"`
	Status     string `json:"status"`
	PendingKey string `json:"pending_key,omitempty"`
}

type submitResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
}

type deleteEventsResponse struct {
	Deleted     []string `json:"deleted"`
	PendingKeys []string `json:"pending_keys"`
}

type revenueResponse struct {
	EventID   string     `json:"event_id"`
	LessonID  string     `json:"lesson_id"`
	BookingID string     `json:"booking_id"`
	TeacherID string     `json:"teacher_id"`
	Students  int        `json:"students"`
	Revenue   revenueDTO `json:"revenue"`
}
