package werewolf

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionLog records submitted actions and drives their result messages
// through the delivery state machine. Messages are created LOCKED so that
// results pre-computed before a phase officially ends stay hidden until
// the orchestrator unlocks them.
type ActionLog struct {
	repo Repository
}

func NewActionLog(repo Repository) *ActionLog {
	return &ActionLog{repo: repo}
}

// SubmitAction inserts a new action at NOT_EXECUTED. An action must target
// at least one player or one location.
func (l *ActionLog) SubmitAction(ctx context.Context, actor PlayerIdentifier, kind AbilityKind, targets Targets) (string, error) {
	if targets.empty() {
		return "", invalidTarget("action %s needs at least one player or location target", kind)
	}
	a := ActionRecord{
		ID:              uuid.NewString(),
		InstanceID:      actor.InstanceID,
		Actor:           actor,
		Kind:            kind,
		PlayerTargets:   targets.Players,
		LocationTargets: targets.Locations,
		SubmittedAt:     time.Now().UTC(),
		Status:          ActionNotExecuted,
	}
	if err := l.repo.InsertAction(ctx, a); err != nil {
		return "", err
	}
	return a.ID, nil
}

// CreateMessage attaches a LOCKED result message to an action. The payload
// is an ordered sequence of opaque renderable strings; order is preserved
// through delivery.
func (l *ActionLog) CreateMessage(ctx context.Context, actionID string, recipient PlayerIdentifier, kind string, payload []string) (string, error) {
	m := MessageRecord{
		ID:        uuid.NewString(),
		ActionID:  actionID,
		Recipient: recipient,
		Kind:      kind,
		Payload:   payload,
		Status:    MessageLocked,
	}
	if err := l.repo.InsertMessage(ctx, m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// ExecuteAction moves an action NOT_EXECUTED -> EXECUTED. Calling it on an
// action already past that state is a silent no-op.
func (l *ActionLog) ExecuteAction(ctx context.Context, actionID string) error {
	_, err := l.repo.MarkActionExecuted(ctx, actionID)
	return err
}

// UnlockMessagesForAction opens the action's LOCKED messages for delivery.
func (l *ActionLog) UnlockMessagesForAction(ctx context.Context, actionID string) error {
	return l.repo.UnlockMessagesForAction(ctx, actionID)
}

// UnlockMessagesForInstance force-opens every LOCKED message of an
// instance. This is the recovery sweep: after a crash mid-resolution no
// message may stay stranded in LOCKED.
func (l *ActionLog) UnlockMessagesForInstance(ctx context.Context, instanceID string) error {
	return l.repo.UnlockMessagesForInstance(ctx, instanceID)
}

// FetchAndCompleteMessage reads a NOT_SENT message and atomically marks it
// SENT; the owning action flips to COMPLETED once its last message is
// delivered. A message already SENT or absent yields NoSuchMessage.
func (l *ActionLog) FetchAndCompleteMessage(ctx context.Context, messageID string) ([]string, error) {
	m, err := l.repo.ConsumeMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return m.Payload, nil
}

// PendingMessagesFor lists the NOT_SENT messages addressed to a player in
// creation order. Listing does not consume: a message stays visible until
// FetchAndCompleteMessage claims it.
func (l *ActionLog) PendingMessagesFor(ctx context.Context, player PlayerIdentifier) ([]MessageRecord, error) {
	return l.repo.PendingMessages(ctx, player)
}
