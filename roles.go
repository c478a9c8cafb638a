package werewolf

import (
	"context"
)

// Faction is the win-condition alignment a role belongs to.
type Faction string

const (
	FactionTownspeople Faction = "townspeople"
	FactionWerewolves  Faction = "werewolves"
	FactionLovers      Faction = "lovers"
)

// AbilityKind tags an action a role may perform.
type AbilityKind string

const (
	AbilityBite        AbilityKind = "bite"
	AbilityShoot       AbilityKind = "shoot"
	AbilityProtect     AbilityKind = "protect"
	AbilityInvestigate AbilityKind = "investigate"
	AbilityRobGrave    AbilityKind = "rob_grave"
)

// RoleKind identifies a concrete role. The catalog is closed: every kind
// maps to a factory in roleFactories, so an unknown kind is a construction
// error instead of a reflective lookup.
type RoleKind string

const (
	RoleTownsperson RoleKind = "townsperson"
	RoleWerewolf    RoleKind = "werewolf"
	RoleArcher      RoleKind = "archer"
	RoleHealer      RoleKind = "healer"
	RoleSeer        RoleKind = "seer"
	RoleGraverobber RoleKind = "graverobber"
)

// Faction returns the win-condition group the role fights for.
func (k RoleKind) Faction() Faction {
	if k == RoleWerewolf {
		return FactionWerewolves
	}
	return FactionTownspeople
}

// ActionRequest is a player's attempt to use an ability.
type ActionRequest struct {
	Actor   PlayerIdentifier
	Targets Targets
}

// EligibleAbility describes one currently usable ability for UI discovery:
// which targets it accepts right now and the actor's vote weight. It is
// advisory only; PerformAction re-checks everything.
type EligibleAbility struct {
	Kind       AbilityKind
	Players    []PlayerIdentifier
	Locations  []string
	VoteWeight int
}

// Role is the per-role ability contract.
type Role interface {
	Kind() RoleKind
	// AbilityKinds statically declares which abilities this role exposes.
	AbilityKinds() []AbilityKind
	// InitializeActions grants the role's starting items, once at
	// assignment. Re-invoking it is a caller error, not guarded here.
	InitializeActions(ctx context.Context, player PlayerIdentifier) error
	// PerformAction validates (alive, item, ability, phase, target shape,
	// in that order), executes the effect and consumes one item.
	PerformAction(ctx context.Context, req ActionRequest, kind AbilityKind) (string, error)
	// EligibleTargets is a side-effect-free query returning the abilities
	// usable right now; empty when preconditions are not met.
	EligibleTargets(ctx context.Context, instanceID string, player PlayerIdentifier) ([]EligibleAbility, error)
	// ReplenishAction clears stale items and grants the period's fresh
	// allotment; called once per phase boundary.
	ReplenishAction(ctx context.Context, speed GameSpeed, player PlayerIdentifier) error
	// BallotWeight reports how heavily this role's ballot counts in the
	// vote tied to the given ability. Abilities the role does not carry
	// weigh the default 1.
	BallotWeight(kind AbilityKind) int
}

// RoleDeps bundles what a role needs to act.
type RoleDeps struct {
	Repo  Repository
	Items *ItemLedger
	Log   *ActionLog
}

var roleFactories = map[RoleKind]func(RoleDeps) Role{
	RoleTownsperson: newTownsperson,
	RoleWerewolf:    newWerewolf,
	RoleArcher:      newArcher,
	RoleHealer:      newHealer,
	RoleSeer:        newSeer,
	RoleGraverobber: newGraverobber,
}

// NewRole constructs the role implementation for a kind.
func NewRole(kind RoleKind, deps RoleDeps) (Role, error) {
	factory, ok := roleFactories[kind]
	if !ok {
		return nil, noSuchAbility("unknown role kind %q", kind)
	}
	return factory(deps), nil
}

// abilitySpec is a role's immutable per-ability configuration: which phase
// it belongs to, the target shape it requires, and how it picks eligible
// targets. Produced by the role factories, never shared mutable state.
type abilitySpec struct {
	phase           Phase
	playerTargets   int
	locationTargets int
	voteWeight      int
	eligible        func(self PlayerIdentifier, players []PlayerState) Targets
	effect          func(ctx context.Context, c *roleCore, req ActionRequest) (string, error)
}

// roleCore carries the shared validation and consumption logic. Each role
// holds one required item kind; all its abilities draw from that stock.
type roleCore struct {
	deps      RoleDeps
	kind      RoleKind
	item      ItemKind
	initial   int
	abilities map[AbilityKind]abilitySpec
	order     []AbilityKind
	replenish func(ctx context.Context, c *roleCore, speed GameSpeed, player PlayerIdentifier) error
}

func (c *roleCore) Kind() RoleKind {
	return c.kind
}

func (c *roleCore) AbilityKinds() []AbilityKind {
	kinds := make([]AbilityKind, len(c.order))
	copy(kinds, c.order)
	return kinds
}

func (c *roleCore) InitializeActions(ctx context.Context, player PlayerIdentifier) error {
	for i := 0; i < c.initial; i++ {
		if err := c.deps.Items.AddPlayerItem(ctx, player, c.item); err != nil {
			return err
		}
	}
	return nil
}

func (c *roleCore) PerformAction(ctx context.Context, req ActionRequest, kind AbilityKind) (string, error) {
	actor, err := c.deps.Repo.Player(ctx, req.Actor)
	if err != nil {
		return "", err
	}
	if !actor.Alive {
		return "", notAllowed("dead players cannot act")
	}

	count, err := c.deps.Items.AmountOfItems(ctx, req.Actor, c.item)
	if err != nil {
		return "", err
	}
	if count < 1 {
		return "", notAllowed("no %s left to spend", c.item)
	}

	spec, ok := c.abilities[kind]
	if !ok {
		return "", noSuchAbility("role %s does not expose %s", c.kind, kind)
	}

	inst, err := c.deps.Repo.Instance(ctx, req.Actor.InstanceID)
	if err != nil {
		return "", err
	}
	if spec.phase != inst.Phase {
		return "", notAllowed("can only %s during the %s phase", kind, spec.phase)
	}

	if len(req.Targets.Players) != spec.playerTargets || len(req.Targets.Locations) != spec.locationTargets {
		return "", invalidTarget("%s takes %d player and %d location targets",
			kind, spec.playerTargets, spec.locationTargets)
	}

	// The conditional decrement is the serialization point: two concurrent
	// uses of the last item resolve to one success and one rejection.
	consumed, err := c.deps.Items.DeletePlayerItem(ctx, req.Actor, c.item)
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", notAllowed("no %s left to spend", c.item)
	}

	actionID, err := spec.effect(ctx, c, req)
	if err != nil {
		// Refund the charge; the effect never happened.
		if addErr := c.deps.Items.AddPlayerItem(ctx, req.Actor, c.item); addErr != nil {
			return "", addErr
		}
		return "", err
	}
	return actionID, nil
}

func (c *roleCore) EligibleTargets(ctx context.Context, instanceID string, player PlayerIdentifier) ([]EligibleAbility, error) {
	actor, err := c.deps.Repo.Player(ctx, player)
	if err != nil {
		return nil, err
	}
	if !actor.Alive {
		return nil, nil
	}

	count, err := c.deps.Items.AmountOfItems(ctx, player, c.item)
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, nil
	}

	inst, err := c.deps.Repo.Instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	players, err := c.deps.Repo.PlayersByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var out []EligibleAbility
	for _, kind := range c.order {
		spec := c.abilities[kind]
		if spec.phase != inst.Phase {
			continue
		}
		targets := spec.eligible(player, players)
		if targets.empty() {
			continue
		}
		out = append(out, EligibleAbility{
			Kind:       kind,
			Players:    targets.Players,
			Locations:  targets.Locations,
			VoteWeight: spec.voteWeight,
		})
	}
	return out, nil
}

func (c *roleCore) BallotWeight(kind AbilityKind) int {
	if spec, ok := c.abilities[kind]; ok && spec.voteWeight > 0 {
		return spec.voteWeight
	}
	return 1
}

func (c *roleCore) ReplenishAction(ctx context.Context, speed GameSpeed, player PlayerIdentifier) error {
	if c.replenish == nil {
		return nil
	}
	return c.replenish(ctx, c, speed, player)
}

// resetItems drops stale charges and grants a fresh allotment.
func (c *roleCore) resetItems(ctx context.Context, player PlayerIdentifier, amount int) error {
	if err := c.deps.Items.ClearPlayerItems(ctx, player, c.item); err != nil {
		return err
	}
	for i := 0; i < amount; i++ {
		if err := c.deps.Items.AddPlayerItem(ctx, player, c.item); err != nil {
			return err
		}
	}
	return nil
}

// aliveOthers picks every living player except the actor.
func aliveOthers(self PlayerIdentifier, players []PlayerState) Targets {
	var t Targets
	for _, p := range players {
		if p.Alive && p.ID != self {
			t.Players = append(t.Players, p.ID)
		}
	}
	return t
}
