package plate

const patternBoost = 1.1

// Thresholds partition aggregated confidences into persistence and
// recording decisions.
type Thresholds struct {
	// Trigger is the floor for a detection to count as qualifying.
	Trigger float64
	// Recording is the floor for a qualifying detection to drive the
	// recording state machine. May differ from Trigger.
	Recording float64
	// Storage is the floor for persisting a detection at all.
	Storage float64
}

// Aggregate combines detector and text confidence into one scalar: their
// mean, boosted by 10% when the text matched a regional pattern, capped
// at 1.
func Aggregate(detectorConf, textConf float64, patternMatched bool) float64 {
	conf := (clamp01(detectorConf) + clamp01(textConf)) / 2
	if patternMatched {
		conf *= patternBoost
	}
	return clamp01(conf)
}

func (t Thresholds) Qualifying(conf float64) bool {
	return conf >= t.Trigger
}

func (t Thresholds) HighConfidence(conf float64) bool {
	return conf >= t.Recording
}

func (t Thresholds) Persistable(conf float64) bool {
	return conf >= t.Storage
}
