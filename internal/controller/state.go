// Package controller decides, tick by tick, how to react to swap utilization.
package controller

// Streak lengths that trigger an action
const (
	ExpandStreak   = 3
	OptimizeStreak = 2
	ShrinkStreak   = 15
)

// Level classifies a swap utilization sample
type Level int

const (
	Normal Level = iota
	Elevated
	High
	Critical
)

func (l Level) String() string {
	switch l {
	case Elevated:
		return "elevated"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// Action is what the loop should do after a sample
type Action int

const (
	None Action = iota
	Optimize
	Expand
	Shrink
)

func (a Action) String() string {
	switch a {
	case Optimize:
		return "optimize"
	case Expand:
		return "expand"
	case Shrink:
		return "shrink"
	default:
		return "none"
	}
}

// Thresholds are swap utilization percentages. Ordering warning < optimize < expand
// is checked by config validation, not here.
type Thresholds struct {
	Warning  float64
	Optimize float64
	Expand   float64
}

// Hysteresis counts consecutive samples in the same direction
type Hysteresis struct {
	HighUsageStreak int
	LowUsageStreak  int
}

// Decision is the result of evaluating one sample
type Decision struct {
	Level  Level
	Action Action
}

// Evaluate classifies swapPercent and returns the action to take together with the
// next hysteresis state. Branches are checked from the highest threshold down, and a
// triggered action resets its streak so the condition must persist again to re-fire.
func Evaluate(th Thresholds, st Hysteresis, swapPercent float64) (Decision, Hysteresis) {
	switch {
	case swapPercent >= th.Expand:
		st.HighUsageStreak++
		if st.HighUsageStreak >= ExpandStreak {
			st.HighUsageStreak = 0
			return Decision{Level: Critical, Action: Expand}, st
		}
		return Decision{Level: Critical}, st

	case swapPercent >= th.Optimize:
		st.HighUsageStreak++
		st.LowUsageStreak = 0
		if st.HighUsageStreak >= OptimizeStreak {
			st.HighUsageStreak = 0
			return Decision{Level: High, Action: Optimize}, st
		}
		return Decision{Level: High}, st

	case swapPercent >= th.Warning:
		st.HighUsageStreak = 0
		st.LowUsageStreak = 0
		return Decision{Level: Elevated}, st

	default:
		st.HighUsageStreak = 0
		st.LowUsageStreak++
		if st.LowUsageStreak >= ShrinkStreak {
			st.LowUsageStreak = 0
			return Decision{Level: Normal, Action: Shrink}, st
		}
		return Decision{Level: Normal}, st
	}
}
