package scheduler

// CommissionType identifies how a teacher is paid for a lesson.
type CommissionType string

const (
	// CommissionFixed pays CPH currency units per hour taught.
	CommissionFixed CommissionType = "fixed"
	// CommissionPercentage pays CPH percent of the gross revenue.
	CommissionPercentage CommissionType = "percentage"
)

// Valid reports whether the commission type is recognised.
func (t CommissionType) Valid() bool {
	return t == CommissionFixed || t == CommissionPercentage
}

// Commission is a teacher pay policy attached to a lesson.
type Commission struct {
	Type CommissionType
	CPH  float64
}

// PackageData is the pricing snapshot of the school package a booking was sold from.
type PackageData struct {
	PricePerStudent   float64
	DurationMinutes   int
	Description       string
	CategoryEquipment string
	CapacityEquipment int
}

// Breakdown captures the revenue figures of one unit of work.
type Breakdown struct {
	PricePerHour float64
	Gross        float64
	Commission   float64
	Net          float64
}

// PricePerHourPerStudent converts a package price into an hourly rate. A package
// without duration yields zero.
func PricePerHourPerStudent(pricePerStudent float64, packageDurationMinutes int) float64 {
	if packageDurationMinutes <= 0 {
		return 0
	}
	return pricePerStudent / (float64(packageDurationMinutes) / 60)
}

// GrossRevenue computes the revenue generated by an event of the given length.
func GrossRevenue(pricePerStudent float64, studentCount, eventDurationMinutes, packageDurationMinutes int) float64 {
	perHour := PricePerHourPerStudent(pricePerStudent, packageDurationMinutes)
	return perHour * (float64(eventDurationMinutes) / 60) * float64(studentCount)
}

// CommissionFor computes the teacher commission for an event. Unknown commission
// types earn nothing.
func CommissionFor(eventDurationMinutes int, commission Commission, gross float64) float64 {
	switch commission.Type {
	case CommissionFixed:
		return commission.CPH * (float64(eventDurationMinutes) / 60)
	case CommissionPercentage:
		return gross * (commission.CPH / 100)
	default:
		return 0
	}
}

// Calculate returns the full breakdown for an event. No rounding is applied.
func Calculate(pkg PackageData, studentCount, eventDurationMinutes int, commission Commission) Breakdown {
	gross := GrossRevenue(pkg.PricePerStudent, studentCount, eventDurationMinutes, pkg.DurationMinutes)
	paid := CommissionFor(eventDurationMinutes, commission, gross)
	return Breakdown{
		PricePerHour: PricePerHourPerStudent(pkg.PricePerStudent, pkg.DurationMinutes),
		Gross:        gross,
		Commission:   paid,
		Net:          gross - paid,
	}
}
