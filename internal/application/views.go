package application

import (
	"github.com/example/classboard/internal/scheduler"
)

func toQueueView(queue *scheduler.TeacherQueue) QueueView {
	teacher := queue.Teacher()
	return QueueView{
		TeacherID:   teacher.ID,
		TeacherName: teacher.Name,
		Events:      toEventViews(queue.Events()),
		Stats:       queue.Stats(),
	}
}

func toEventViews(nodes []*scheduler.EventNode) []EventView {
	views := make([]EventView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, toEventView(node))
	}
	return views
}

func toEventView(node *scheduler.EventNode) EventView {
	students := make([]string, 0, len(node.Students))
	for _, student := range node.Students {
		students = append(students, student.Name)
	}
	return EventView{
		ID:                 node.ID,
		LessonID:           node.LessonID,
		BookingID:          node.BookingID,
		Start:              node.EventData.Date,
		End:                node.EventData.End(),
		Duration:           node.EventData.Duration,
		Location:           node.EventData.Location,
		Status:             node.EventData.Status,
		Students:           students,
		PackageDescription: node.Package.Description,
		Commission:         node.Commission,
		Revenue:            node.Revenue(),
	}
}

func toConflictWarnings(teacherID string, conflicts []scheduler.Conflict) []ConflictWarning {
	if len(conflicts) == 0 {
		return nil
	}
	warnings := make([]ConflictWarning, 0, len(conflicts))
	for _, conflict := range conflicts {
		warnings = append(warnings, ConflictWarning{
			TeacherID:        teacherID,
			EventID:          conflict.EventID,
			WithEventID:      conflict.WithEventID,
			Type:             string(conflict.Type),
			ShortfallMinutes: conflict.ShortfallMinutes,
		})
	}
	return warnings
}
