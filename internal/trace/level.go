package trace

import (
	"fmt"
	"strings"
)

// Level controls how deep into a run events are recorded.
type Level uint8

const (
	LevelOff Level = iota
	// LevelError records nothing live; the ring is dumped when a run fails.
	LevelError
	// LevelPhase records runs and stages.
	LevelPhase
	// LevelDetail adds one span per object.
	LevelDetail
	// LevelDebug adds beams and every trial redshift.
	LevelDebug
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts the level names in any case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: %s)", s, strings.Join(levelNames[:], "|"))
}

// deepest is the innermost scope each level records.
var deepest = [...]Scope{LevelPhase: ScopeStage, LevelDetail: ScopeObject, LevelDebug: ScopeBeam}

// ShouldEmit reports whether events of scope are recorded at l.
func (l Level) ShouldEmit(scope Scope) bool {
	if int(l) >= len(deepest) || deepest[l] == 0 {
		return false
	}
	return scope <= deepest[l]
}
