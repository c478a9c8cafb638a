package werewolf

import (
	"context"
)

// Grave locations a graverobber may dig at.
var graveLocations = []string{"churchyard", "forest_clearing", "old_well"}

func newTownsperson(deps RoleDeps) Role {
	return &townsperson{deps: deps}
}

// townsperson has no abilities at all. It is not a roleCore with an empty
// catalog on purpose: a role without abilities signals "unsupported" for
// any attempt, which is distinct from a role rejecting one unknown kind.
type townsperson struct {
	deps RoleDeps
}

func (t *townsperson) Kind() RoleKind {
	return RoleTownsperson
}

func (t *townsperson) AbilityKinds() []AbilityKind {
	return nil
}

func (t *townsperson) InitializeActions(ctx context.Context, player PlayerIdentifier) error {
	return nil
}

func (t *townsperson) PerformAction(ctx context.Context, req ActionRequest, kind AbilityKind) (string, error) {
	return "", unsupportedAbility("townspeople have no abilities")
}

func (t *townsperson) EligibleTargets(ctx context.Context, instanceID string, player PlayerIdentifier) ([]EligibleAbility, error) {
	return nil, nil
}

func (t *townsperson) ReplenishAction(ctx context.Context, speed GameSpeed, player PlayerIdentifier) error {
	return nil
}

func (t *townsperson) BallotWeight(kind AbilityKind) int {
	return 1
}

func newWerewolf(deps RoleDeps) Role {
	c := &roleCore{
		deps:    deps,
		kind:    RoleWerewolf,
		item:    ItemFang,
		initial: 1,
		order:   []AbilityKind{AbilityBite},
		replenish: func(ctx context.Context, c *roleCore, speed GameSpeed, player PlayerIdentifier) error {
			players, err := c.deps.Repo.PlayersByInstance(ctx, player.InstanceID)
			if err != nil {
				return err
			}
			alive := 0
			for _, p := range players {
				if p.Alive {
					alive++
				}
			}
			// One fang per ten living players, at least one.
			fangs := alive / 10
			if fangs < 1 {
				fangs = 1
			}
			return c.resetItems(ctx, player, fangs)
		},
	}
	c.abilities = map[AbilityKind]abilitySpec{
		AbilityBite: {
			phase:         PhaseNight,
			playerTargets: 1,
			voteWeight:    1,
			eligible: func(self PlayerIdentifier, players []PlayerState) Targets {
				var t Targets
				for _, p := range players {
					if p.Alive && p.ID != self && p.Role.Faction() != FactionWerewolves {
						t.Players = append(t.Players, p.ID)
					}
				}
				return t
			},
			effect: func(ctx context.Context, c *roleCore, req ActionRequest) (string, error) {
				target := req.Targets.Players[0]
				victim, err := c.deps.Repo.Player(ctx, target)
				if err != nil {
					return "", err
				}
				if !victim.Alive {
					return "", invalidTarget("cannot bite the dead")
				}
				if victim.Role.Faction() == FactionWerewolves {
					return "", invalidTarget("werewolves do not bite their own")
				}
				actionID, err := c.deps.Log.SubmitAction(ctx, req.Actor, AbilityBite, req.Targets)
				if err != nil {
					return "", err
				}
				_, err = c.deps.Log.CreateMessage(ctx, actionID, req.Actor,
					"bite_submitted", []string{target.UserID})
				if err != nil {
					return "", err
				}
				return actionID, nil
			},
		},
	}
	return c
}

func newArcher(deps RoleDeps) Role {
	c := &roleCore{
		deps: deps,
		kind: RoleArcher,
		item: ItemArrow,
		// Archers start empty-handed; the first arrow arrives on a
		// cadence day.
		initial: 0,
		order:   []AbilityKind{AbilityShoot},
		replenish: func(ctx context.Context, c *roleCore, speed GameSpeed, player PlayerIdentifier) error {
			inst, err := c.deps.Repo.Instance(ctx, player.InstanceID)
			if err != nil {
				return err
			}
			cadence := 4
			if speed == SpeedFast {
				cadence = 2
			}
			arrows := 0
			if inst.Day > 0 && inst.Day%cadence == 0 {
				arrows = 1
			}
			return c.resetItems(ctx, player, arrows)
		},
	}
	c.abilities = map[AbilityKind]abilitySpec{
		AbilityShoot: {
			phase:         PhaseDay,
			playerTargets: 1,
			voteWeight:    1,
			eligible:      aliveOthers,
			effect: func(ctx context.Context, c *roleCore, req ActionRequest) (string, error) {
				target := req.Targets.Players[0]
				victim, err := c.deps.Repo.Player(ctx, target)
				if err != nil {
					return "", err
				}
				if !victim.Alive {
					return "", invalidTarget("cannot shoot the dead")
				}
				actionID, err := c.deps.Log.SubmitAction(ctx, req.Actor, AbilityShoot, req.Targets)
				if err != nil {
					return "", err
				}
				_, err = c.deps.Log.CreateMessage(ctx, actionID, req.Actor,
					"shot_fired", []string{target.UserID})
				if err != nil {
					return "", err
				}
				return actionID, nil
			},
		},
	}
	return c
}

func newHealer(deps RoleDeps) Role {
	c := &roleCore{
		deps:    deps,
		kind:    RoleHealer,
		item:    ItemBandage,
		initial: 1,
		order:   []AbilityKind{AbilityProtect},
		replenish: func(ctx context.Context, c *roleCore, speed GameSpeed, player PlayerIdentifier) error {
			return c.resetItems(ctx, player, 1)
		},
	}
	c.abilities = map[AbilityKind]abilitySpec{
		AbilityProtect: {
			phase:         PhaseNight,
			playerTargets: 1,
			voteWeight:    1,
			eligible: func(self PlayerIdentifier, players []PlayerState) Targets {
				// Healers may protect themselves.
				var t Targets
				for _, p := range players {
					if p.Alive {
						t.Players = append(t.Players, p.ID)
					}
				}
				return t
			},
			effect: func(ctx context.Context, c *roleCore, req ActionRequest) (string, error) {
				target := req.Targets.Players[0]
				patient, err := c.deps.Repo.Player(ctx, target)
				if err != nil {
					return "", err
				}
				if !patient.Alive {
					return "", invalidTarget("cannot protect the dead")
				}
				actionID, err := c.deps.Log.SubmitAction(ctx, req.Actor, AbilityProtect, req.Targets)
				if err != nil {
					return "", err
				}
				_, err = c.deps.Log.CreateMessage(ctx, actionID, req.Actor,
					"protection_placed", []string{target.UserID})
				if err != nil {
					return "", err
				}
				return actionID, nil
			},
		},
	}
	return c
}

func newSeer(deps RoleDeps) Role {
	c := &roleCore{
		deps:    deps,
		kind:    RoleSeer,
		item:    ItemCrystal,
		initial: 1,
		order:   []AbilityKind{AbilityInvestigate},
		replenish: func(ctx context.Context, c *roleCore, speed GameSpeed, player PlayerIdentifier) error {
			return c.resetItems(ctx, player, 1)
		},
	}
	c.abilities = map[AbilityKind]abilitySpec{
		AbilityInvestigate: {
			phase:         PhaseNight,
			playerTargets: 1,
			voteWeight:    1,
			eligible:      aliveOthers,
			effect: func(ctx context.Context, c *roleCore, req ActionRequest) (string, error) {
				target := req.Targets.Players[0]
				subject, err := c.deps.Repo.Player(ctx, target)
				if err != nil {
					return "", err
				}
				actionID, err := c.deps.Log.SubmitAction(ctx, req.Actor, AbilityInvestigate, req.Targets)
				if err != nil {
					return "", err
				}
				// The verdict is computed now and stays locked until the
				// morning delivery pass.
				_, err = c.deps.Log.CreateMessage(ctx, actionID, req.Actor,
					"investigation_result",
					[]string{target.UserID, string(subject.Role.Faction())})
				if err != nil {
					return "", err
				}
				return actionID, nil
			},
		},
	}
	return c
}

func newGraverobber(deps RoleDeps) Role {
	c := &roleCore{
		deps:    deps,
		kind:    RoleGraverobber,
		item:    ItemShovel,
		initial: 1,
		order:   []AbilityKind{AbilityRobGrave},
		replenish: func(ctx context.Context, c *roleCore, speed GameSpeed, player PlayerIdentifier) error {
			return c.resetItems(ctx, player, 1)
		},
	}
	c.abilities = map[AbilityKind]abilitySpec{
		AbilityRobGrave: {
			phase:           PhaseNight,
			locationTargets: 1,
			voteWeight:      1,
			eligible: func(self PlayerIdentifier, players []PlayerState) Targets {
				return Targets{Locations: graveLocations}
			},
			effect: func(ctx context.Context, c *roleCore, req ActionRequest) (string, error) {
				location := req.Targets.Locations[0]
				known := false
				for _, l := range graveLocations {
					if l == location {
						known = true
						break
					}
				}
				if !known {
					return "", invalidTarget("unknown grave site %q", location)
				}
				actionID, err := c.deps.Log.SubmitAction(ctx, req.Actor, AbilityRobGrave, req.Targets)
				if err != nil {
					return "", err
				}
				// Loot is the role of a player buried there, if any.
				players, err := c.deps.Repo.PlayersByInstance(ctx, req.Actor.InstanceID)
				if err != nil {
					return "", err
				}
				payload := []string{location}
				for _, p := range players {
					if !p.Alive && graveOf(p.ID) == location {
						payload = append(payload, string(p.Role))
						break
					}
				}
				_, err = c.deps.Log.CreateMessage(ctx, actionID, req.Actor,
					"grave_robbed", payload)
				if err != nil {
					return "", err
				}
				return actionID, nil
			},
		},
	}
	return c
}

// graveOf deterministically assigns a dead player to a grave site.
func graveOf(id PlayerIdentifier) string {
	var sum int
	for _, r := range id.UserID {
		sum += int(r)
	}
	return graveLocations[sum%len(graveLocations)]
}
