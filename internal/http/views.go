package http

import (
	"time"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/scheduler"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}

type commissionDTO struct {
	Type string  `json:"type"`
	CPH  float64 `json:"cph"`
}

type revenueDTO struct {
	PricePerHour float64 `json:"price_per_hour"`
	Gross        float64 `json:"gross"`
	Commission   float64 `json:"commission"`
	Net          float64 `json:"net"`
}

func toRevenueDTO(b scheduler.Breakdown) revenueDTO {
	return revenueDTO{PricePerHour: b.PricePerHour, Gross: b.Gross, Commission: b.Commission, Net: b.Net}
}

type eventViewDTO struct {
	ID                 string        `json:"id"`
	LessonID           string        `json:"lesson_id"`
	BookingID          string        `json:"booking_id"`
	Start              string        `json:"start"`
	End                string        `json:"end"`
	Duration           int           `json:"duration"`
	Location           string        `json:"location"`
	Status             string        `json:"status"`
	Students           []string      `json:"students"`
	PackageDescription string        `json:"package_description,omitempty"`
	Commission         commissionDTO `json:"commission"`
	Revenue            revenueDTO    `json:"revenue"`
}

func toEventViewDTOs(events []application.EventView) []eventViewDTO {
	out := make([]eventViewDTO, 0, len(events))
	for _, event := range events {
		out = append(out, eventViewDTO{
			ID:                 event.ID,
			LessonID:           event.LessonID,
			BookingID:          event.BookingID,
			Start:              formatTime(event.Start),
			End:                formatTime(event.End),
			Duration:           event.Duration,
			Location:           event.Location,
			Status:             string(event.Status),
			Students:           append([]string{}, event.Students...),
			PackageDescription: event.PackageDescription,
			Commission:         commissionDTO{Type: string(event.Commission.Type), CPH: event.Commission.CPH},
			Revenue:            toRevenueDTO(event.Revenue),
		})
	}
	return out
}

type statsDTO struct {
	Events          int            `json:"events"`
	DurationMinutes int            `json:"duration_minutes"`
	Gross           float64        `json:"gross"`
	Commission      float64        `json:"commission"`
	Net             float64        `json:"net"`
	FirstStart      string         `json:"first_start,omitempty"`
	LastEnd         string         `json:"last_end,omitempty"`
	ByStatus        map[string]int `json:"by_status"`
}

func toStatsDTO(stats scheduler.QueueStats) statsDTO {
	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}
	return statsDTO{
		Events:          stats.Events,
		DurationMinutes: stats.DurationMinutes,
		Gross:           stats.Gross,
		Commission:      stats.Commission,
		Net:             stats.Net,
		FirstStart:      formatTime(stats.FirstStart),
		LastEnd:         formatTime(stats.LastEnd),
		ByStatus:        byStatus,
	}
}

type queueDTO struct {
	TeacherID   string         `json:"teacher_id"`
	TeacherName string         `json:"teacher_name"`
	Events      []eventViewDTO `json:"events"`
	Stats       statsDTO       `json:"stats"`
}

type conflictDTO struct {
	TeacherID        string `json:"teacher_id"`
	EventID          string `json:"event_id"`
	WithEventID      string `json:"with_event_id"`
	Type             string `json:"type"`
	ShortfallMinutes int    `json:"shortfall_minutes"`
}

func toConflictDTOs(conflicts []application.ConflictWarning) []conflictDTO {
	if len(conflicts) == 0 {
		return nil
	}
	out := make([]conflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictDTO{
			TeacherID:        c.TeacherID,
			EventID:          c.EventID,
			WithEventID:      c.WithEventID,
			Type:             c.Type,
			ShortfallMinutes: c.ShortfallMinutes,
		})
	}
	return out
}

type eventUpdateDTO struct {
	ID       string  `json:"id"`
	Date     *string `json:"date,omitempty"`
	Duration *int    `json:"duration,omitempty"`
	Location *string `json:"location,omitempty"`
	Status   *string `json:"status,omitempty"`
}

type changesDTO struct {
	Updates   []eventUpdateDTO `json:"updates"`
	Deletions []string         `json:"deletions"`
}

func toChangesDTO(changes scheduler.Changes) changesDTO {
	out := changesDTO{
		Updates:   make([]eventUpdateDTO, 0, len(changes.Updates)),
		Deletions: append([]string{}, changes.Deletions...),
	}
	for _, update := range changes.Updates {
		dto := eventUpdateDTO{ID: update.ID, Duration: update.Duration, Location: update.Location}
		if update.Date != nil {
			date := formatTime(*update.Date)
			dto.Date = &date
		}
		if update.Status != nil {
			status := string(*update.Status)
			dto.Status = &status
		}
		out.Updates = append(out.Updates, dto)
	}
	return out
}

// Board payloads. Events carry the optimistic "deleting" flag and lessons the
// number of adds still waiting for confirmation.

type boardEventDTO struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Duration int    `json:"duration"`
	Location string `json:"location"`
	Status   string `json:"status"`
	Deleting bool   `json:"deleting,omitempty"`
}

type boardLessonDTO struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	TeacherID   string          `json:"teacher_id,omitempty"`
	TeacherName string          `json:"teacher_name,omitempty"`
	Commission  *commissionDTO  `json:"commission,omitempty"`
	PendingAdds int             `json:"pending_adds,omitempty"`
	Events      []boardEventDTO `json:"events"`
}

type bookingDTO struct {
	ID                 string           `json:"id"`
	SchoolID           string           `json:"school_id"`
	DateStart          string           `json:"date_start"`
	DateEnd            string           `json:"date_end"`
	PackageDescription string           `json:"package_description,omitempty"`
	Students           []string         `json:"students"`
	Lessons            []boardLessonDTO `json:"lessons"`
	UpdatedAt          string           `json:"updated_at,omitempty"`
}

type pendingOpDTO struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	LessonID  string `json:"lesson_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

type boardResponse struct {
	SchoolID string         `json:"school_id"`
	Revision uint64         `json:"revision"`
	Bookings []bookingDTO   `json:"bookings"`
	Pending  []pendingOpDTO `json:"pending"`
}

func toBoardResponse(schoolID string, board *classboard.Board) boardResponse {
	resp := boardResponse{
		SchoolID: schoolID,
		Revision: board.Revision(),
		Bookings: make([]bookingDTO, 0),
		Pending:  make([]pendingOpDTO, 0),
	}
	for _, booking := range board.Bookings() {
		resp.Bookings = append(resp.Bookings, toBookingDTO(booking, board))
	}
	for _, op := range board.Pending() {
		resp.Pending = append(resp.Pending, pendingOpDTO{
			Key:       op.Key,
			Type:      string(op.Type),
			LessonID:  op.LessonID,
			EventID:   op.EventID,
			CreatedAt: formatTime(op.CreatedAt),
		})
	}
	return resp
}

// toBookingDTO renders a booking; board may be nil when no optimistic state applies.
func toBookingDTO(booking classboard.Booking, board *classboard.Board) bookingDTO {
	dto := bookingDTO{
		ID:        booking.ID,
		SchoolID:  booking.SchoolID,
		DateStart: formatTime(booking.DateStart),
		DateEnd:   formatTime(booking.DateEnd),
		Students:  make([]string, 0, len(booking.Students)),
		Lessons:   make([]boardLessonDTO, 0, len(booking.Lessons)),
		UpdatedAt: formatTime(booking.UpdatedAt),
	}
	if booking.Package != nil {
		dto.PackageDescription = booking.Package.Description
	}
	for _, student := range booking.Students {
		dto.Students = append(dto.Students, student.Name)
	}
	for _, lesson := range booking.Lessons {
		lessonDTO := boardLessonDTO{
			ID:     lesson.ID,
			Status: lesson.Status,
			Events: make([]boardEventDTO, 0, len(lesson.Events)),
		}
		if lesson.Teacher != nil {
			lessonDTO.TeacherID = lesson.Teacher.ID
			lessonDTO.TeacherName = lesson.Teacher.Name
		}
		if lesson.Commission != nil {
			lessonDTO.Commission = &commissionDTO{Type: string(lesson.Commission.Type), CPH: lesson.Commission.CPH}
		}
		if board != nil {
			lessonDTO.PendingAdds = board.PendingAdds(lesson.ID)
		}
		for _, event := range lesson.Events {
			lessonDTO.Events = append(lessonDTO.Events, boardEventDTO{
				ID:       event.ID,
				Date:     formatTime(event.Date),
				Duration: event.Duration,
				Location: event.Location,
				Status:   string(event.Status),
				Deleting: board != nil && board.IsDeleting(event.ID),
			})
		}
		dto.Lessons = append(dto.Lessons, lessonDTO)
	}
	return dto
}
