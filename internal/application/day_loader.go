package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/classboard/internal/classboard"
)

// resolvedDay is a calendar day pinned to a school's timezone.
type resolvedDay struct {
	school School
	rng    classboard.DayRange
	order  []string
}

// dayLoader resolves calendar days and loads their bookings for both services.
type dayLoader struct {
	schedules ScheduleReader
	schools   SchoolDirectory
	order     []string
}

func (l *dayLoader) resolve(ctx context.Context, schoolID, date string) (resolvedDay, error) {
	vErr := &ValidationError{}
	if strings.TrimSpace(schoolID) == "" {
		vErr.add("school_id", "school_id is required")
	}
	if strings.TrimSpace(date) == "" {
		vErr.add("date", "date is required")
	}
	if vErr.HasErrors() {
		return resolvedDay{}, vErr
	}

	school, err := l.schools.GetSchool(ctx, schoolID)
	if err != nil {
		return resolvedDay{}, mapRepoError(err)
	}
	rng, err := dayRangeFor(date, school.Location)
	if err != nil {
		return resolvedDay{}, err
	}

	order := l.order
	if len(order) == 0 {
		order, err = l.schools.TeacherOrder(ctx, schoolID)
		if err != nil {
			return resolvedDay{}, mapRepoError(err)
		}
	}
	return resolvedDay{school: school, rng: rng, order: order}, nil
}

func (l *dayLoader) bookings(ctx context.Context, day resolvedDay) ([]classboard.Booking, error) {
	bookings, err := l.schedules.ListBookings(ctx, day.school.ID, day.rng)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return bookings, nil
}

// dayRangeFor returns the half-open range covering date in loc.
func dayRangeFor(date string, loc *time.Location) (classboard.DayRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(date), loc)
	if err != nil {
		return classboard.DayRange{}, fieldError("date", fmt.Sprintf("date must be formatted as %s", time.DateOnly))
	}
	return classboard.DayRange{Start: start, End: start.AddDate(0, 0, 1)}, nil
}
