package werewolf

// PlayerIdentifier is the sole externally visible player handle: a player
// exists only within one game instance. Equality is by value.
type PlayerIdentifier struct {
	InstanceID string `db:"instance_id" json:"instance_id"`
	UserID     string `db:"user_id" json:"user_id"`
}

func (p PlayerIdentifier) String() string {
	return p.InstanceID + "/" + p.UserID
}

// Phase is the unit of time the orchestrator advances.
type Phase string

const (
	PhaseMorning Phase = "morning"
	PhaseDay     Phase = "day"
	PhaseEvening Phase = "evening"
	PhaseNight   Phase = "night"
)

// next returns the phase that follows p. The day counter increments on the
// night -> morning transition, handled by the orchestrator.
func (p Phase) next() Phase {
	switch p {
	case PhaseMorning:
		return PhaseDay
	case PhaseDay:
		return PhaseEvening
	case PhaseEvening:
		return PhaseNight
	default:
		return PhaseMorning
	}
}

// GameSpeed scales replenishment cadence for fast games.
type GameSpeed string

const (
	SpeedNormal GameSpeed = "normal"
	SpeedFast   GameSpeed = "fast"
)

// Targets carries the player and/or location targets of an ability use.
// Locations are opaque strings (e.g. graveyard plots); the engine only
// cares about their cardinality.
type Targets struct {
	Players   []PlayerIdentifier
	Locations []string
}

func (t Targets) empty() bool {
	return len(t.Players) == 0 && len(t.Locations) == 0
}
