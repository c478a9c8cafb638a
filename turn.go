package werewolf

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Orchestrator drives one or more game instances through their phases.
// Player-facing calls (abilities, ballots) may run concurrently; the
// phase-resolution pass is serialized per instance.
type Orchestrator struct {
	repo   Repository
	items  *ItemLedger
	log    *ActionLog
	logger zerolog.Logger

	locks sync.Map // instanceID -> *sync.Mutex

	mu    sync.Mutex
	votes map[string]*Vote // instanceID/voteType -> open vote
}

func NewOrchestrator(repo Repository, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		items:  NewItemLedger(repo),
		log:    NewActionLog(repo),
		logger: logger,
		votes:  make(map[string]*Vote),
	}
}

func (o *Orchestrator) instanceLock(instanceID string) *sync.Mutex {
	l, _ := o.locks.LoadOrStore(instanceID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (o *Orchestrator) roleDeps() RoleDeps {
	return RoleDeps{Repo: o.repo, Items: o.items, Log: o.log}
}

// roleOf builds the role implementation for a player's stored role kind.
func (o *Orchestrator) roleOf(ctx context.Context, id PlayerIdentifier) (Role, PlayerState, error) {
	state, err := o.repo.Player(ctx, id)
	if err != nil {
		return nil, PlayerState{}, err
	}
	role, err := NewRole(state.Role, o.roleDeps())
	if err != nil {
		return nil, PlayerState{}, err
	}
	return role, state, nil
}

// AssignRole stores a player's role and grants its starting items.
func (o *Orchestrator) AssignRole(ctx context.Context, id PlayerIdentifier, kind RoleKind) error {
	role, err := NewRole(kind, o.roleDeps())
	if err != nil {
		return err
	}
	if err := o.repo.SetRole(ctx, id, kind); err != nil {
		return err
	}
	return role.InitializeActions(ctx, id)
}

// PerformAbility routes an ability attempt through the actor's role.
func (o *Orchestrator) PerformAbility(ctx context.Context, req ActionRequest, kind AbilityKind) (string, error) {
	role, _, err := o.roleOf(ctx, req.Actor)
	if err != nil {
		return "", err
	}
	return role.PerformAction(ctx, req, kind)
}

// EligibleAbilities reports what a player can currently do.
func (o *Orchestrator) EligibleAbilities(ctx context.Context, id PlayerIdentifier) ([]EligibleAbility, error) {
	role, _, err := o.roleOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return role.EligibleTargets(ctx, id.InstanceID, id)
}

// SubmitVote records a ballot in the instance's open vote of the given
// type and persists it.
func (o *Orchestrator) SubmitVote(ctx context.Context, instanceID, voteType string, voter PlayerIdentifier, b Ballot) error {
	o.mu.Lock()
	vote, ok := o.votes[instanceID+"/"+voteType]
	o.mu.Unlock()
	if !ok {
		return &GameError{Kind: KindNoSuchVote, Reason: "no open " + voteType + " vote"}
	}
	if err := vote.SubmitVote(voter, b); err != nil {
		return err
	}
	return o.repo.InsertBallot(ctx, BallotRecord{
		VoteID: vote.ID,
		Voter:  b.Voter,
		Target: b.Target,
	})
}

// AdvancePhase moves an instance to its next phase and resolves everything
// the boundary owes: close the leaving phase's vote, execute pending
// actions, unlock messages, replenish items, open the entering phase's
// vote, and evaluate win conditions. Exactly one pass runs at a time per
// instance.
func (o *Orchestrator) AdvancePhase(ctx context.Context, instanceID string) error {
	lock := o.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := o.repo.Instance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Finished {
		return notAllowed("game %s is already over", instanceID)
	}

	if err := o.closeVoteFor(ctx, inst); err != nil {
		o.logger.Error().Err(err).Str("instance", instanceID).Msg("vote resolution failed")
	}

	o.executePendingActions(ctx, inst)

	if err := o.log.UnlockMessagesForInstance(ctx, instanceID); err != nil {
		return err
	}

	day := inst.Day
	phase := inst.Phase.next()
	if inst.Phase == PhaseNight {
		day++
	}
	if err := o.repo.AdvanceInstance(ctx, instanceID, day, phase); err != nil {
		return err
	}
	inst.Day = day
	inst.Phase = phase

	o.replenishAll(ctx, inst)

	if err := o.openVoteFor(ctx, inst); err != nil {
		o.logger.Error().Err(err).Str("instance", instanceID).Msg("vote opening failed")
	}

	return o.checkWin(ctx, inst)
}

// executePendingActions resolves every NOT_EXECUTED action in one pass.
// An error in one player's action never aborts the others.
func (o *Orchestrator) executePendingActions(ctx context.Context, inst InstanceRecord) {
	pending, err := o.repo.ActionsByStatus(ctx, inst.ID, ActionNotExecuted)
	if err != nil {
		o.logger.Error().Err(err).Str("instance", inst.ID).Msg("loading pending actions failed")
		return
	}

	protected := make(map[PlayerIdentifier]bool)
	for _, a := range pending {
		if a.Kind == AbilityProtect && len(a.PlayerTargets) == 1 {
			protected[a.PlayerTargets[0]] = true
		}
	}

	for _, a := range pending {
		if err := o.resolveAction(ctx, a, protected); err != nil {
			o.logger.Error().Err(err).
				Str("instance", inst.ID).
				Str("action", a.ID).
				Str("actor", a.Actor.String()).
				Msg("action resolution failed")
		}
	}
}

func (o *Orchestrator) resolveAction(ctx context.Context, a ActionRecord, protected map[PlayerIdentifier]bool) error {
	advanced, err := o.repo.MarkActionExecuted(ctx, a.ID)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	switch a.Kind {
	case AbilityBite:
		if len(a.PlayerTargets) == 0 {
			return invalidTarget("bite action %s carries no player target", a.ID)
		}
		target := a.PlayerTargets[0]
		if protected[target] {
			_, err = o.log.CreateMessage(ctx, a.ID, target, "attack_survived", nil)
			return err
		}
		if err := o.repo.SetAlive(ctx, target, false); err != nil {
			return err
		}
		_, err = o.log.CreateMessage(ctx, a.ID, target, "died_in_the_night", nil)
		return err
	case AbilityShoot:
		if len(a.PlayerTargets) == 0 {
			return invalidTarget("shoot action %s carries no player target", a.ID)
		}
		target := a.PlayerTargets[0]
		if err := o.repo.SetAlive(ctx, target, false); err != nil {
			return err
		}
		_, err = o.log.CreateMessage(ctx, a.ID, target, "shot_dead", []string{a.Actor.UserID})
		return err
	default:
		// Investigations and grave robberies wrote their messages at
		// submission time; execution only opens them up.
		return nil
	}
}

func (o *Orchestrator) replenishAll(ctx context.Context, inst InstanceRecord) {
	players, err := o.repo.PlayersByInstance(ctx, inst.ID)
	if err != nil {
		o.logger.Error().Err(err).Str("instance", inst.ID).Msg("loading players failed")
		return
	}
	for _, p := range players {
		if !p.Alive {
			continue
		}
		role, err := NewRole(p.Role, o.roleDeps())
		if err != nil {
			o.logger.Error().Err(err).Str("player", p.ID.String()).Msg("unknown role")
			continue
		}
		if err := role.ReplenishAction(ctx, inst.Speed, p.ID); err != nil {
			o.logger.Error().Err(err).Str("player", p.ID.String()).Msg("replenish failed")
		}
	}
}

// openVoteFor starts the vote belonging to the phase just entered: the
// whole village lynches during the day, the werewolves pick a victim at
// night.
func (o *Orchestrator) openVoteFor(ctx context.Context, inst InstanceRecord) error {
	players, err := o.repo.PlayersByInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	aliveSet := make(map[PlayerIdentifier]bool)
	for _, p := range players {
		if p.Alive {
			aliveSet[p.ID] = true
		}
	}
	alive := func(id PlayerIdentifier) bool { return aliveSet[id] }

	var vote *Vote
	switch inst.Phase {
	case PhaseDay:
		var voters []PlayerIdentifier
		for _, p := range players {
			if p.Alive {
				voters = append(voters, p.ID)
			}
		}
		vote = NewVote(inst.ID, VoteTypeLynch, voters, alive)
	case PhaseNight:
		var wolves []PlayerIdentifier
		for _, p := range players {
			if p.Alive && p.Role.Faction() == FactionWerewolves {
				wolves = append(wolves, p.ID)
			}
		}
		if len(wolves) == 0 {
			return nil
		}
		factionOf := func(id PlayerIdentifier) Faction {
			for _, p := range players {
				if p.ID == id {
					return p.Role.Faction()
				}
			}
			return ""
		}
		vote, err = NewFactionVote(inst.ID, VoteTypeWerewolf, wolves, FactionWerewolves, factionOf, alive)
		if err != nil {
			return err
		}
		// A wolf's pick counts as heavily as its bite does.
		for _, p := range players {
			if !p.Alive || p.Role.Faction() != FactionWerewolves {
				continue
			}
			role, err := NewRole(p.Role, o.roleDeps())
			if err != nil {
				continue
			}
			vote.SetVoterWeight(p.ID, role.BallotWeight(AbilityBite))
		}
	default:
		return nil
	}

	vote.Start()
	if err := o.repo.SaveVote(ctx, vote.Record()); err != nil {
		return err
	}
	o.mu.Lock()
	o.votes[inst.ID+"/"+vote.Type] = vote
	o.mu.Unlock()
	return nil
}

// closeVoteFor ends the vote of the phase being left and applies its
// outcome. The lynch only hangs its leader when more than half of the
// living village backed it; the werewolves' pick falls on plurality but
// is spared when a pending protection covers it. Ties kill nobody.
func (o *Orchestrator) closeVoteFor(ctx context.Context, inst InstanceRecord) error {
	var voteType string
	switch inst.Phase {
	case PhaseDay:
		voteType = VoteTypeLynch
	case PhaseNight:
		voteType = VoteTypeWerewolf
	default:
		return nil
	}

	o.mu.Lock()
	vote, ok := o.votes[inst.ID+"/"+voteType]
	if ok {
		delete(o.votes, inst.ID+"/"+voteType)
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	tally := vote.End()
	if err := o.repo.SaveVote(ctx, vote.Record()); err != nil {
		return err
	}

	victim, count, decided := leadingTarget(tally)
	if !decided {
		return nil
	}

	switch voteType {
	case VoteTypeLynch:
		players, err := o.repo.PlayersByInstance(ctx, inst.ID)
		if err != nil {
			return err
		}
		aliveCount := 0
		for _, p := range players {
			if p.Alive {
				aliveCount++
			}
		}
		needed := aliveCount/2 + 1
		if count < needed {
			o.logger.Info().
				Str("instance", inst.ID).
				Int("needed", needed).
				Int("got", count).
				Msg("no lynch majority, nobody hangs")
			return nil
		}
	case VoteTypeWerewolf:
		spared, err := o.spareProtectedVictim(ctx, inst.ID, victim)
		if err != nil {
			return err
		}
		if spared {
			return nil
		}
	}

	if err := o.repo.SetAlive(ctx, victim, false); err != nil {
		return err
	}
	o.logger.Info().
		Str("instance", inst.ID).
		Str("victim", victim.String()).
		Str("vote", voteType).
		Msg("vote victim eliminated")
	return nil
}

// spareProtectedVictim scans the night's still-pending protections and,
// when one covers the victim, records the survival on that protection
// instead of killing.
func (o *Orchestrator) spareProtectedVictim(ctx context.Context, instanceID string, victim PlayerIdentifier) (bool, error) {
	pending, err := o.repo.ActionsByStatus(ctx, instanceID, ActionNotExecuted)
	if err != nil {
		return false, err
	}
	for _, a := range pending {
		if a.Kind == AbilityProtect && len(a.PlayerTargets) == 1 && a.PlayerTargets[0] == victim {
			if _, err := o.log.CreateMessage(ctx, a.ID, victim, "attack_survived", nil); err != nil {
				return false, err
			}
			o.logger.Info().
				Str("instance", instanceID).
				Str("victim", victim.String()).
				Msg("protection saved the werewolves' pick")
			return true, nil
		}
	}
	return false, nil
}

// leadingTarget picks the unique highest-weighted target and its count;
// ties and empty tallies decide nothing.
func leadingTarget(tally map[PlayerIdentifier]int) (PlayerIdentifier, int, bool) {
	var best PlayerIdentifier
	bestCount := 0
	tied := false
	for target, count := range tally {
		switch {
		case count > bestCount:
			best, bestCount, tied = target, count, false
		case count == bestCount:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return PlayerIdentifier{}, 0, false
	}
	return best, bestCount, true
}

// checkWin runs the win chain over the living players and finishes the
// instance when a faction claims victory.
func (o *Orchestrator) checkWin(ctx context.Context, inst InstanceRecord) error {
	players, err := o.repo.PlayersByInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	var alive []PlayerState
	for _, p := range players {
		if p.Alive {
			alive = append(alive, p)
		}
	}

	chain, err := DefaultWinChain(nil)
	if err != nil {
		return err
	}
	winner := chain.CheckWin(alive)
	if winner == "" {
		return nil
	}

	if err := o.repo.FinishInstance(ctx, inst.ID, winner); err != nil {
		return err
	}
	o.logger.Info().
		Str("instance", inst.ID).
		Str("winner", string(winner)).
		Msg("game over")
	return nil
}

// RecoverInstance force-opens every stranded LOCKED message for an
// instance, used after a restart so pre-computed results are not lost.
func (o *Orchestrator) RecoverInstance(ctx context.Context, instanceID string) error {
	return o.log.UnlockMessagesForInstance(ctx, instanceID)
}
