package scoring

import "math"

// Label is the ordinal classification of a risk value. This file is the only
// place thresholds live; everything that needs a label calls Classify.
type Label string

const (
	LabelUnknown  Label = "Unknown"
	LabelLow      Label = "Low"
	LabelModerate Label = "Moderate"
	LabelHigh     Label = "High"
	LabelCritical Label = "Critical"
)

// Classify maps a risk onto its label. Higher risk never yields a lower label:
//
//	[0,1) Low   [1,2) Moderate   [2,3) High   [3,4] Critical
//
// Values below 0 clamp to Low, above 4 to Critical. NaN is Unknown.
func Classify(risk float64) Label {
	switch {
	case math.IsNaN(risk):
		return LabelUnknown
	case risk < 1:
		return LabelLow
	case risk < 2:
		return LabelModerate
	case risk < 3:
		return LabelHigh
	default:
		return LabelCritical
	}
}

// ClassifyOptional classifies an aggregate that may be absent.
func ClassifyOptional(risk *float64) Label {
	if risk == nil {
		return LabelUnknown
	}
	return Classify(*risk)
}

// Rank orders labels: Unknown is -1, Low 0 through Critical 3.
func (l Label) Rank() int {
	switch l {
	case LabelLow:
		return 0
	case LabelModerate:
		return 1
	case LabelHigh:
		return 2
	case LabelCritical:
		return 3
	default:
		return -1
	}
}
