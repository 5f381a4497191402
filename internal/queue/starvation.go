package queue

import "github.com/rotisserie/eris"

// Starvation thresholds on max_wait / target_wait.
const (
	StarvationWarning  = 3.0
	StarvationCritical = 5.0
)

// Starvation levels.
const (
	LevelOK       = "ok"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// StarvationStatus is the starvation score of a queue and its level.
type StarvationStatus struct {
	Score float64 `json:"starvation_score"`
	Level string  `json:"level"`
}

// EvaluateStarvation scores maxWait against targetWait, both in seconds.
func EvaluateStarvation(maxWaitSeconds, targetWaitSeconds float64) (StarvationStatus, error) {
	if targetWaitSeconds <= 0 {
		return StarvationStatus{}, eris.New("queue: target wait must be greater than zero")
	}
	score := maxWaitSeconds / targetWaitSeconds
	level := LevelOK
	switch {
	case score >= StarvationCritical:
		level = LevelCritical
	case score >= StarvationWarning:
		level = LevelWarning
	}
	return StarvationStatus{Score: score, Level: level}, nil
}
