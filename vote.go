package werewolf

import (
	"sync"

	"github.com/google/uuid"
)

// Vote type tags used by the orchestrator and the ongoing-vote queries.
const (
	VoteTypeLynch    = "lynch"
	VoteTypeWerewolf = "werewolf"
)

// Ballot is a single voter's target choice within one vote round.
type Ballot struct {
	Voter  PlayerIdentifier
	Target PlayerIdentifier
}

// Vote is the state machine for one ballot-collection round:
// created -> started -> ended, with ended terminal. All methods are safe
// for concurrent use; the ballot map is the only mutable state.
type Vote struct {
	ID         string
	InstanceID string
	Type       string

	mu      sync.Mutex
	allowed map[PlayerIdentifier]struct{}
	ballots map[PlayerIdentifier]Ballot
	order   []PlayerIdentifier
	weights map[PlayerIdentifier]int
	started bool
	ended   bool
	tally   map[PlayerIdentifier]int

	alive          func(PlayerIdentifier) bool
	targetEligible func(PlayerIdentifier) bool
}

// NewVote builds a vote round open to the given voters. The alive
// predicate is consulted per ballot; the base vote accepts any target.
func NewVote(instanceID, voteType string, allowedVoters []PlayerIdentifier, alive func(PlayerIdentifier) bool) *Vote {
	allowed := make(map[PlayerIdentifier]struct{}, len(allowedVoters))
	for _, v := range allowedVoters {
		allowed[v] = struct{}{}
	}
	return &Vote{
		ID:             uuid.NewString(),
		InstanceID:     instanceID,
		Type:           voteType,
		allowed:        allowed,
		ballots:        make(map[PlayerIdentifier]Ballot),
		weights:        make(map[PlayerIdentifier]int),
		alive:          alive,
		targetEligible: func(PlayerIdentifier) bool { return true },
	}
}

// NewFactionVote builds a vote restricted to members of one faction, e.g.
// the nightly werewolf kill vote. Including a non-member among the allowed
// voters is rejected at construction, before any ballot can be cast, and
// members of the faction are not eligible targets.
func NewFactionVote(instanceID, voteType string, allowedVoters []PlayerIdentifier, faction Faction,
	factionOf func(PlayerIdentifier) Faction, alive func(PlayerIdentifier) bool) (*Vote, error) {

	for _, voter := range allowedVoters {
		if factionOf(voter) != faction {
			return nil, votingError(KindNotAllowedToJoinVote,
				"player %s is not part of faction %s", voter, faction)
		}
	}
	v := NewVote(instanceID, voteType, allowedVoters, alive)
	v.targetEligible = func(target PlayerIdentifier) bool {
		return factionOf(target) != faction
	}
	return v, nil
}

// SetVoterWeight overrides how much a voter's ballot counts in the
// tally. Unset voters weigh 1; an alpha wolf's pick counts double and a
// muted player's ballot is recorded but weighs nothing.
func (v *Vote) SetVoterWeight(voter PlayerIdentifier, weight int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.weights[voter] = weight
}

// Start opens the round for ballots.
func (v *Vote) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = true
}

func (v *Vote) Started() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.started
}

func (v *Vote) Ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ended
}

// SubmitVote records a ballot after the permission checks, which fire in a
// fixed order so callers observe the earliest violated rule:
// eligibility, target, lifecycle, identity, double voting.
func (v *Vote) SubmitVote(voter PlayerIdentifier, b Ballot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.allowed[voter]; !ok || !v.alive(voter) {
		return votingError(KindNotAllowedToVote, "player %s may not vote in this round", voter)
	}
	if !v.targetEligible(b.Target) {
		return votingError(KindNotAllowedTarget, "player %s is not a valid target", b.Target)
	}
	if !v.started {
		return votingError(KindVoteNotStarted, "vote has not been started")
	}
	if v.ended {
		return votingError(KindVoteClosed, "vote has already ended")
	}
	if b.Voter != voter {
		return votingError(KindVoterFraud, "ballot of %s submitted by %s", b.Voter, voter)
	}
	if _, ok := v.ballots[voter]; ok {
		return votingError(KindAlreadyVoted, "player %s already cast a ballot", voter)
	}

	v.ballots[voter] = b
	v.order = append(v.order, voter)
	return nil
}

// End closes the round and freezes the tally. Further calls are no-ops
// returning the same result. The tally is nil only when no ballot was ever
// cast and no voter was eligible to begin with.
func (v *Vote) End() map[PlayerIdentifier]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ended {
		return v.tally
	}
	v.ended = true
	if len(v.ballots) == 0 && len(v.allowed) == 0 {
		return nil
	}
	v.tally = tallyBallots(v.ballots, v.weights)
	return v.tally
}

// Tally returns the current weighted counts per target; targets with
// zero weight are omitted and ties are represented as-is. Before End it
// reflects the ballots so far, after End the frozen result.
func (v *Vote) Tally() map[PlayerIdentifier]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ended {
		return v.tally
	}
	return tallyBallots(v.ballots, v.weights)
}

// Ballots returns the accepted ballots in submission order.
func (v *Vote) Ballots() []Ballot {
	v.mu.Lock()
	defer v.mu.Unlock()
	ballots := make([]Ballot, 0, len(v.order))
	for _, voter := range v.order {
		ballots = append(ballots, v.ballots[voter])
	}
	return ballots
}

// AllowedVoters returns the number of players admitted to the round.
func (v *Vote) AllowedVoters() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.allowed)
}

func tallyBallots(ballots map[PlayerIdentifier]Ballot, weights map[PlayerIdentifier]int) map[PlayerIdentifier]int {
	tally := make(map[PlayerIdentifier]int)
	for voter, b := range ballots {
		weight, ok := weights[voter]
		if !ok {
			weight = 1
		}
		if weight <= 0 {
			continue
		}
		tally[b.Target] += weight
	}
	return tally
}

// Record converts the round's lifecycle state into its persisted form.
func (v *Vote) Record() VoteRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VoteRecord{
		ID:         v.ID,
		InstanceID: v.InstanceID,
		Type:       v.Type,
		Started:    v.started,
		Ended:      v.ended,
	}
}
