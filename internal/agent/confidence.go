package agent

// Level is the categorical confidence bucket reported alongside the numeric
// confidence in rendered artifacts.
type Level string

const (
	LevelVeryHigh Level = "very_high"
	LevelHigh     Level = "high"
	LevelModerate Level = "moderate"
	LevelLow      Level = "low"
)

// Bucket boundaries. A confidence on a boundary belongs to the higher bucket.
const (
	veryHighFloor = 0.85
	highFloor     = 0.70
	moderateFloor = 0.50
)

// LevelFor maps a numeric confidence to its bucket. Pure and monotonic:
// a higher confidence never maps to a lower bucket.
func LevelFor(confidence float64) Level {
	switch {
	case confidence >= veryHighFloor:
		return LevelVeryHigh
	case confidence >= highFloor:
		return LevelHigh
	case confidence >= moderateFloor:
		return LevelModerate
	default:
		return LevelLow
	}
}

// ClampConfidence forces a model-reported confidence into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
