package session

import (
	"encoding/json"
	"fmt"
)

// Phase is the position of a build session in its lifecycle. Phases only
// move forward; TornDown is reachable from any of them.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseAcquired
	PhasePopulated
	PhaseInstalled
	PhaseShrunk
	PhasePackaged
	PhaseTornDown
)

func getPhaseMapping() []string {
	return []string{"NEW", "ACQUIRED", "POPULATED", "INSTALLED", "SHRUNK", "PACKAGED", "TORN_DOWN"}
}

func (p Phase) String() string {
	mapping := getPhaseMapping()
	if p < 0 || int(p) >= len(mapping) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return mapping[p]
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for n, str := range getPhaseMapping() {
		if str == s {
			*p = Phase(n)
			return nil
		}
	}
	return fmt.Errorf("invalid build session phase: %s", s)
}

// Advance moves the session to phase p.
func (s *Session) Advance(p Phase) error {
	if s.phase == PhaseTornDown {
		return fmt.Errorf("session %s is torn down", s.ID)
	}
	if p <= s.phase || p == PhaseTornDown {
		return fmt.Errorf("session %s cannot move from %s to %s", s.ID, s.phase, p)
	}
	s.logger.WithField("session", s.ID).Debugf("phase %s -> %s", s.phase, p)
	s.phase = p
	return nil
}

func (s *Session) Phase() Phase {
	return s.phase
}
