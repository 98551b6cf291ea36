package http

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/realtime"
)

type dayService interface {
	Day(ctx context.Context, params application.DayParams) (application.DayView, error)
}

// boardSource is the realtime hub as seen by the board and stream endpoints.
type boardSource interface {
	Board(ctx context.Context, schoolID string) (*classboard.Board, error)
	Watch(schoolID string, buffer int) (<-chan realtime.Notification, func())
}

type ClassboardHandler struct {
	service   dayService
	boards    boardSource
	responder responder
	logger    *slog.Logger
	// keepAlive is the interval of SSE comment frames on idle streams.
	keepAlive time.Duration
}

func NewClassboardHandler(service dayService, boards boardSource, logger *slog.Logger) *ClassboardHandler {
	return &ClassboardHandler{
		service:   service,
		boards:    boards,
		responder: newResponder(logger),
		logger:    logger,
		keepAlive: 25 * time.Second,
	}
}

// Day renders the teacher queues of one school day. The body digest is sent as
// ETag so polling clients can revalidate with If-None-Match.
func (h *ClassboardHandler) Day(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	schoolID := pathID(r, "school")
	if schoolID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingSchoolID)
		return
	}

	view, err := h.service.Day(r.Context(), application.DayParams{
		SchoolID: schoolID,
		Date:     strings.TrimSpace(r.URL.Query().Get("date")),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	payload := toDayResponse(view)
	body, err := json.Marshal(payload)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	etag := dayETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, payload)
}

func dayETag(body []byte) string {
	sum := blake2b.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// Board returns the school's reconciled bookings with pending optimistic
// operations.
func (h *ClassboardHandler) Board(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.boards == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	schoolID := pathID(r, "school")
	if schoolID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingSchoolID)
		return
	}

	board, err := h.boards.Board(r.Context(), schoolID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBoardResponse(schoolID, board))
}

// Stream sends the board as a "snapshot" event followed by every applied
// notification of the school as Server-Sent Events.
func (h *ClassboardHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.boards == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	schoolID := pathID(r, "school")
	if schoolID == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errMissingSchoolID)
		return
	}

	board, err := h.boards.Board(ctx, schoolID)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	updates, cancel := h.boards.Watch(schoolID, 32)
	defer cancel()

	logger := handlerLogger(ctx, h.logger, "ClassboardHandler", "Stream", "school_id", schoolID)
	controller := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := toBoardResponse(schoolID, board)
	if err := writeSSE(w, "snapshot", snapshot.Revision, snapshot); err != nil {
		logger.WarnContext(ctx, "failed to write snapshot", "error", err)
		return
	}
	if err := controller.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			logger.ErrorContext(ctx, "stream aborted", "error", errStreamingFailed)
		}
		return
	}
	logger.InfoContext(ctx, "stream opened", "revision", snapshot.Revision)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "stream closed")
			return
		case n, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSSE(w, string(n.Type), n.Revision, toNotificationDTO(n)); err != nil {
				logger.WarnContext(ctx, "failed to write notification", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := controller.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w io.Writer, event string, id uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}

type notificationDTO struct {
	Type      string      `json:"type"`
	SchoolID  string      `json:"school_id"`
	BookingID string      `json:"booking_id,omitempty"`
	Booking   *bookingDTO `json:"booking,omitempty"`
	SentAt    string      `json:"sent_at"`
	Revision  uint64      `json:"revision"`
}

func toNotificationDTO(n realtime.Notification) notificationDTO {
	dto := notificationDTO{
		Type:      string(n.Type),
		SchoolID:  n.SchoolID,
		BookingID: n.BookingID,
		SentAt:    formatTime(n.SentAt),
		Revision:  n.Revision,
	}
	if n.Booking != nil {
		booking := toBookingDTO(*n.Booking, nil)
		dto.Booking = &booking
		if dto.BookingID == "" {
			dto.BookingID = n.Booking.ID
		}
	}
	return dto
}

type skippedDTO struct {
	BookingID string `json:"booking_id"`
	LessonID  string `json:"lesson_id"`
	EventID   string `json:"event_id,omitempty"`
	Reason    string `json:"reason"`
}

type dayResponse struct {
	SchoolID   string        `json:"school_id"`
	Date       string        `json:"date"`
	Timezone   string        `json:"timezone"`
	RangeStart string        `json:"range_start"`
	RangeEnd   string        `json:"range_end"`
	GapMinutes int           `json:"gap_minutes"`
	Queues     []queueDTO    `json:"queues"`
	Skipped    []skippedDTO  `json:"skipped,omitempty"`
	Conflicts  []conflictDTO `json:"conflicts,omitempty"`
}

func toDayResponse(view application.DayView) dayResponse {
	resp := dayResponse{
		SchoolID:   view.SchoolID,
		Date:       view.Date,
		Timezone:   view.Timezone,
		RangeStart: formatTime(view.Range.Start),
		RangeEnd:   formatTime(view.Range.End),
		GapMinutes: view.GapMinutes,
		Queues:     make([]queueDTO, 0, len(view.Queues)),
		Conflicts:  toConflictDTOs(view.Conflicts),
	}
	for _, queue := range view.Queues {
		resp.Queues = append(resp.Queues, queueDTO{
			TeacherID:   queue.TeacherID,
			TeacherName: queue.TeacherName,
			Events:      toEventViewDTOs(queue.Events),
			Stats:       toStatsDTO(queue.Stats),
		})
	}
	for _, skipped := range view.Skipped {
		resp.Skipped = append(resp.Skipped, skippedDTO{
			BookingID: skipped.BookingID,
			LessonID:  skipped.LessonID,
			EventID:   skipped.EventID,
			Reason:    string(skipped.Reason),
		})
	}
	return resp
}
