package classboard

import (
	"sort"

	"github.com/example/classboard/internal/scheduler"
)

// SkipReason explains why a lesson or event was left out of the queues.
type SkipReason string

const (
	SkipMissingTeacher    SkipReason = "missing_teacher"
	SkipMissingCommission SkipReason = "missing_commission"
	SkipInvalidCommission SkipReason = "invalid_commission"
	SkipMissingPackage    SkipReason = "missing_package"
	SkipInvalidDuration   SkipReason = "invalid_duration"
)

// Skipped records a lesson or event that could not be placed.
type Skipped struct {
	BookingID string
	LessonID  string
	EventID   string
	Reason    SkipReason
}

// BuildOptions configures queue construction.
type BuildOptions struct {
	Range      DayRange
	GapMinutes int
	// TeacherOrder lists teacher ids that should come first, in this order.
	TeacherOrder []string
}

// BuildResult is the outcome of BuildTeacherQueues.
type BuildResult struct {
	Queues  []*scheduler.TeacherQueue
	Skipped []Skipped
}

type candidate struct {
	teacher Teacher
	node    *scheduler.EventNode
}

// BuildTeacherQueues derives one queue per teacher from the day's bookings.
// Lessons without teacher, commission or package and events with a
// non-positive duration are skipped so partial data does not block the rest of
// the day. Events are inserted in chronological order.
func BuildTeacherQueues(bookings []Booking, opts BuildOptions) BuildResult {
	var result BuildResult
	candidates := make([]candidate, 0)

	for _, booking := range bookings {
		students := toSchedulerStudents(booking.Students)
		for _, lesson := range booking.Lessons {
			if reason, ok := lessonSkipReason(booking, lesson); !ok {
				result.Skipped = append(result.Skipped, Skipped{BookingID: booking.ID, LessonID: lesson.ID, Reason: reason})
				continue
			}
			pkg := toPackageData(*booking.Package)
			for _, event := range lesson.Events {
				if !opts.Range.Contains(event.Date) {
					continue
				}
				if event.Duration <= 0 {
					result.Skipped = append(result.Skipped, Skipped{BookingID: booking.ID, LessonID: lesson.ID, EventID: event.ID, Reason: SkipInvalidDuration})
					continue
				}
				node := scheduler.NewEventNode(event.ID, lesson.ID, booking.ID, scheduler.EventData{
					Date:     event.Date,
					Duration: event.Duration,
					Location: event.Location,
					Status:   event.Status,
				}, *lesson.Commission, pkg, students)
				candidates = append(candidates, candidate{teacher: *lesson.Teacher, node: node})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].node.EventData.Date.Before(candidates[j].node.EventData.Date)
	})

	queues := make(map[string]*scheduler.TeacherQueue)
	teachers := make(map[string]Teacher)
	for _, c := range candidates {
		queue, ok := queues[c.teacher.ID]
		if !ok {
			queue = scheduler.NewTeacherQueue(scheduler.Teacher{ID: c.teacher.ID, Name: c.teacher.Name})
			queues[c.teacher.ID] = queue
			teachers[c.teacher.ID] = c.teacher
		}
		queue.AddToQueueInChronologicalOrder(c.node, opts.GapMinutes)
	}

	result.Queues = orderQueues(queues, teachers, opts.TeacherOrder)
	return result
}

func lessonSkipReason(booking Booking, lesson Lesson) (SkipReason, bool) {
	switch {
	case lesson.Teacher == nil || lesson.Teacher.ID == "":
		return SkipMissingTeacher, false
	case lesson.Commission == nil:
		return SkipMissingCommission, false
	case !lesson.Commission.Type.Valid():
		return SkipInvalidCommission, false
	case booking.Package == nil:
		return SkipMissingPackage, false
	}
	return "", true
}

func orderQueues(queues map[string]*scheduler.TeacherQueue, teachers map[string]Teacher, order []string) []*scheduler.TeacherQueue {
	out := make([]*scheduler.TeacherQueue, 0, len(queues))
	placed := make(map[string]struct{}, len(order))
	for _, id := range order {
		if queue, ok := queues[id]; ok {
			if _, dup := placed[id]; dup {
				continue
			}
			out = append(out, queue)
			placed[id] = struct{}{}
		}
	}

	rest := make([]Teacher, 0, len(teachers))
	for id, teacher := range teachers {
		if _, ok := placed[id]; !ok {
			rest = append(rest, teacher)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Name == rest[j].Name {
			return rest[i].ID < rest[j].ID
		}
		return rest[i].Name < rest[j].Name
	})
	for _, teacher := range rest {
		out = append(out, queues[teacher.ID])
	}
	return out
}

func toSchedulerStudents(students []Student) []scheduler.Student {
	out := make([]scheduler.Student, 0, len(students))
	for _, s := range students {
		out = append(out, scheduler.Student{ID: s.ID, Name: s.Name})
	}
	return out
}

func toPackageData(pkg Package) scheduler.PackageData {
	return scheduler.PackageData{
		PricePerStudent:   pkg.PricePerStudent,
		DurationMinutes:   pkg.DurationMinutes,
		Description:       pkg.Description,
		CategoryEquipment: pkg.CategoryEquipment,
		CapacityEquipment: pkg.CapacityEquipment,
	}
}
