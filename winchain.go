package werewolf

// WinHandler is one node in the chain of per-faction win evaluators. Each
// node checks its own faction's victory predicate over the living-player
// snapshot and delegates to the next node when it does not claim the win.
// The chain is rebuilt in memory for every evaluation pass and is never
// persisted.
type WinHandler struct {
	faction Faction
	claims  func(alive []PlayerState) bool
	next    *WinHandler
}

func NewWinHandler(faction Faction, claims func(alive []PlayerState) bool) *WinHandler {
	return &WinHandler{faction: faction, claims: claims}
}

// SetNext links the following node. Reassigning a link that is already set
// would disconnect the chain segment behind it, and linking a node that
// already reaches this one would close a cycle; both are refused.
func (h *WinHandler) SetNext(next *WinHandler) error {
	if h.next != nil {
		return cutOffChain("node %s already links to %s", h.faction, h.next.faction)
	}
	for n := next; n != nil; n = n.next {
		if n == h {
			return cutOffChain("linking %s would close a cycle", next.faction)
		}
	}
	h.next = next
	return nil
}

// CheckWin returns the first faction along the chain that declares itself
// victorious over the given living players, or "" when none does. The walk
// is read-only; evaluating twice on the same snapshot gives the same
// answer.
func (h *WinHandler) CheckWin(alive []PlayerState) Faction {
	if h.claims(alive) {
		return h.faction
	}
	if h.next != nil {
		return h.next.CheckWin(alive)
	}
	return ""
}

// NewWerewolvesWinHandler claims victory when no living player opposes the
// werewolves.
func NewWerewolvesWinHandler() *WinHandler {
	return NewWinHandler(FactionWerewolves, func(alive []PlayerState) bool {
		if len(alive) == 0 {
			return false
		}
		for _, p := range alive {
			if p.Role.Faction() != FactionWerewolves {
				return false
			}
		}
		return true
	})
}

// NewTownspeopleWinHandler claims victory when every werewolf is dead.
func NewTownspeopleWinHandler() *WinHandler {
	return NewWinHandler(FactionTownspeople, func(alive []PlayerState) bool {
		if len(alive) == 0 {
			return false
		}
		for _, p := range alive {
			if p.Role.Faction() == FactionWerewolves {
				return false
			}
		}
		return true
	})
}

// NewLoversWinHandler claims victory when the living set is exactly the
// linked lover pair, regardless of their factions.
func NewLoversWinHandler(first, second PlayerIdentifier) *WinHandler {
	return NewWinHandler(FactionLovers, func(alive []PlayerState) bool {
		if len(alive) != 2 {
			return false
		}
		a, b := alive[0].ID, alive[1].ID
		return (a == first && b == second) || (a == second && b == first)
	})
}

// DefaultWinChain links the stock evaluators: lovers take precedence over
// the faction wipes, matching the override in the lobby rules.
func DefaultWinChain(lovers []PlayerIdentifier) (*WinHandler, error) {
	head := NewWerewolvesWinHandler()
	town := NewTownspeopleWinHandler()
	if len(lovers) == 2 {
		loversNode := NewLoversWinHandler(lovers[0], lovers[1])
		if err := loversNode.SetNext(head); err != nil {
			return nil, err
		}
		if err := head.SetNext(town); err != nil {
			return nil, err
		}
		return loversNode, nil
	}
	if err := head.SetNext(town); err != nil {
		return nil, err
	}
	return head, nil
}
