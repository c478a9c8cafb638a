package werewolf

import (
	"context"
	"time"
)

// ActionStatus tracks an action through the resolution pipeline. An action
// is COMPLETED only once every message it generated has been delivered.
type ActionStatus string

const (
	ActionNotExecuted ActionStatus = "not_executed"
	ActionExecuted    ActionStatus = "executed"
	ActionCompleted   ActionStatus = "completed"
)

// MessageStatus tracks a result message toward delivery. Messages are born
// LOCKED so a recipient cannot read the result of an action whose phase has
// not been finalized yet.
type MessageStatus string

const (
	MessageLocked  MessageStatus = "locked"
	MessageNotSent MessageStatus = "not_sent"
	MessageSent    MessageStatus = "sent"
)

// InstanceRecord is the per-game clock and lifecycle row.
type InstanceRecord struct {
	ID       string    `db:"id"`
	Day      int       `db:"day"`
	Phase    Phase     `db:"phase"`
	Speed    GameSpeed `db:"speed"`
	Finished bool      `db:"finished"`
	Winner   Faction   `db:"winner"`
}

// PlayerState is the engine's view of one player: identity, assigned role
// and liveness. The role binding is immutable for the game barring
// role-swap effects, which replace it wholesale.
type PlayerState struct {
	ID    PlayerIdentifier
	Role  RoleKind
	Alive bool
}

// ActionRecord is a submitted action as persisted by the action log.
type ActionRecord struct {
	ID              string
	InstanceID      string
	Actor           PlayerIdentifier
	Kind            AbilityKind
	PlayerTargets   []PlayerIdentifier
	LocationTargets []string
	SubmittedAt     time.Time
	Status          ActionStatus
}

// MessageRecord is a per-recipient result message with its delivery state.
// Payload is an ordered sequence of opaque renderable strings.
type MessageRecord struct {
	ID        string
	ActionID  string
	Recipient PlayerIdentifier
	Kind      string
	Payload   []string
	Status    MessageStatus
}

// VoteRecord is the persisted snapshot of a ballot round's lifecycle.
type VoteRecord struct {
	ID         string `db:"id"`
	InstanceID string `db:"instance_id"`
	Type       string `db:"vote_type"`
	Started    bool   `db:"started"`
	Ended      bool   `db:"ended"`
}

// BallotRecord is one voter's persisted choice within a vote.
type BallotRecord struct {
	VoteID string
	Voter  PlayerIdentifier
	Target PlayerIdentifier
}

// Repository is the persistence boundary the engine calls. Implementations
// are free to use row locking, optimistic versioning or serializable
// transactions as long as the compare-and-swap and conditional-decrement
// methods honor their exactly-once semantics.
type Repository interface {
	// Instance clock.
	CreateInstance(ctx context.Context, inst InstanceRecord) error
	Instance(ctx context.Context, instanceID string) (InstanceRecord, error)
	AdvanceInstance(ctx context.Context, instanceID string, day int, phase Phase) error
	FinishInstance(ctx context.Context, instanceID string, winner Faction) error

	// Players and liveness.
	AddPlayer(ctx context.Context, p PlayerState) error
	Player(ctx context.Context, id PlayerIdentifier) (PlayerState, error)
	PlayersByInstance(ctx context.Context, instanceID string) ([]PlayerState, error)
	SetAlive(ctx context.Context, id PlayerIdentifier, alive bool) error
	SetRole(ctx context.Context, id PlayerIdentifier, role RoleKind) error

	// Item ledger. RemoveItem is a conditional decrement: it reports false
	// when no unit was available, and never drives the count below zero.
	AddItem(ctx context.Context, owner PlayerIdentifier, kind ItemKind) error
	RemoveItem(ctx context.Context, owner PlayerIdentifier, kind ItemKind) (bool, error)
	CountItems(ctx context.Context, owner PlayerIdentifier, kind ItemKind) (int, error)
	ClearItems(ctx context.Context, owner PlayerIdentifier, kind ItemKind) error

	// Action log.
	InsertAction(ctx context.Context, a ActionRecord) error
	Action(ctx context.Context, actionID string) (ActionRecord, error)
	ActionsByStatus(ctx context.Context, instanceID string, status ActionStatus) ([]ActionRecord, error)
	// MarkActionExecuted is a CAS NOT_EXECUTED -> EXECUTED; reports false
	// when the action was already past that state.
	MarkActionExecuted(ctx context.Context, actionID string) (bool, error)

	// Messages. ConsumeMessage is a CAS NOT_SENT -> SENT that additionally
	// flips the owning action to COMPLETED when no LOCKED or NOT_SENT
	// siblings remain.
	InsertMessage(ctx context.Context, m MessageRecord) error
	UnlockMessagesForAction(ctx context.Context, actionID string) error
	UnlockMessagesForInstance(ctx context.Context, instanceID string) error
	ConsumeMessage(ctx context.Context, messageID string) (MessageRecord, error)
	PendingMessages(ctx context.Context, recipient PlayerIdentifier) ([]MessageRecord, error)

	// Vote snapshots, for audit and ongoing-vote queries by the enclosing
	// service.
	SaveVote(ctx context.Context, v VoteRecord) error
	InsertBallot(ctx context.Context, b BallotRecord) error
	OngoingVote(ctx context.Context, instanceID, voteType string) (VoteRecord, error)
}
