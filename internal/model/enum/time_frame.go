package enum

// TimeFrame is the unit of a bar series. Values are ordered by granularity.
type TimeFrame uint8

const (
	TimeFrameTicks TimeFrame = iota + 1
	TimeFrameMicroSeconds
	TimeFrameSeconds
	TimeFrameMinutes
	TimeFrameDays
	TimeFrameWeeks
	TimeFrameMonths
	TimeFrameYears
)

func (t TimeFrame) String() string {
	switch t {
	case TimeFrameTicks:
		return "Ticks"
	case TimeFrameMicroSeconds:
		return "MicroSeconds"
	case TimeFrameSeconds:
		return "Seconds"
	case TimeFrameMinutes:
		return "Minutes"
	case TimeFrameDays:
		return "Days"
	case TimeFrameWeeks:
		return "Weeks"
	case TimeFrameMonths:
		return "Months"
	case TimeFrameYears:
		return "Years"
	default:
		return "Unknown"
	}
}

// IsDaily reports whether bars are stamped with a calendar date only.
func (t TimeFrame) IsDaily() bool {
	return t >= TimeFrameDays
}
