package orchestrator

import (
	"fmt"
	"strings"
)

// State is a step of the fallback chain.
type State int

const (
	StateTryPrecise State = iota
	StateTryGenerative
	StateSynthesize
	StateDone
)

func (s State) String() string {
	switch s {
	case StateTryPrecise:
		return "TRY_PRECISE"
	case StateTryGenerative:
		return "TRY_GENERATIVE"
	case StateSynthesize:
		return "SYNTHESIZE_FALLBACK"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseOrder maps backend names to attempt states. Synthesis is implicit
// and always runs last, so it cannot be listed.
func ParseOrder(names []string) ([]State, error) {
	seen := make(map[State]bool, len(names))
	states := make([]State, 0, len(names))
	for _, name := range names {
		var s State
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "precise":
			s = StateTryPrecise
		case "generative":
			s = StateTryGenerative
		default:
			return nil, fmt.Errorf("unknown backend %q", name)
		}
		if seen[s] {
			return nil, fmt.Errorf("backend %q listed twice", name)
		}
		seen[s] = true
		states = append(states, s)
	}
	return states, nil
}

// plan is the full chain: the configured attempts, then synthesis.
type plan []State

func newPlan(order []State) plan {
	p := make(plan, 0, len(order)+1)
	p = append(p, order...)
	return append(p, StateSynthesize)
}

// next returns the state after s, or StateDone.
func (p plan) next(s State) State {
	for i, st := range p {
		if st == s && i+1 < len(p) {
			return p[i+1]
		}
	}
	return StateDone
}

func (p plan) first() State {
	if len(p) == 0 {
		return StateDone
	}
	return p[0]
}
