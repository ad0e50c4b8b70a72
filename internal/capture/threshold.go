package capture

import "fmt"

// Calibration defaults.
const (
	DefaultAmbientDB = -60.0
	DefaultMarginDB  = 10.0
)

// ThresholdState is the loudness gate shared by all segmenter runs.
// ThresholdDB is always AmbientDB + MarginDB.
type ThresholdState struct {
	AmbientDB   float64
	MarginDB    float64
	ThresholdDB float64

	// Calibrated is false while the conservative default is in effect.
	Calibrated bool
}

// NewThresholdState derives the threshold from an ambient level and margin.
func NewThresholdState(ambientDB, marginDB float64) ThresholdState {
	return ThresholdState{
		AmbientDB:   ambientDB,
		MarginDB:    marginDB,
		ThresholdDB: ambientDB + marginDB,
		Calibrated:  true,
	}
}

// DefaultThreshold is used until a calibration succeeds (-50 dB).
func DefaultThreshold() ThresholdState {
	return ThresholdState{
		AmbientDB:   DefaultAmbientDB,
		MarginDB:    DefaultMarginDB,
		ThresholdDB: DefaultAmbientDB + DefaultMarginDB,
	}
}

func (t ThresholdState) String() string {
	return fmt.Sprintf("ambient=%.1fdB margin=%.1fdB threshold=%.1fdB", t.AmbientDB, t.MarginDB, t.ThresholdDB)
}
