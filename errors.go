package werewolf

import "fmt"

// ErrorKind classifies the rule violations and structural failures the
// engine can report. Validation kinds are caller mistakes and always carry
// a human-readable reason; structural kinds mean the caller referenced
// something that does not exist or tried to corrupt a structure.
type ErrorKind int

const (
	KindNotAllowed ErrorKind = iota
	KindNoSuchAbility
	KindInvalidTarget
	KindUnsupportedAbility

	KindNotAllowedToVote
	KindNotAllowedTarget
	KindVoteNotStarted
	KindVoteClosed
	KindVoterFraud
	KindAlreadyVoted
	KindNotAllowedToJoinVote

	KindNoSuchMessage
	KindNoSuchVote
	KindCutOffChain
)

var kindNames = map[ErrorKind]string{
	KindNotAllowed:           "not allowed",
	KindNoSuchAbility:        "no such ability",
	KindInvalidTarget:        "invalid target",
	KindUnsupportedAbility:   "ability not implemented",
	KindNotAllowedToVote:     "not allowed to vote",
	KindNotAllowedTarget:     "not an allowed target",
	KindVoteNotStarted:       "vote not started",
	KindVoteClosed:           "vote closed",
	KindVoterFraud:           "voter fraud",
	KindAlreadyVoted:         "already voted",
	KindNotAllowedToJoinVote: "not allowed to join vote",
	KindNoSuchMessage:        "no such message",
	KindNoSuchVote:           "no such vote",
	KindCutOffChain:          "would cut off chain",
}

// GameError is the error type surfaced to callers for every rule violation.
// Two GameErrors match under errors.Is when their kinds are equal, so
// callers can compare against the Err* sentinels below without caring
// about the reason text.
type GameError struct {
	Kind   ErrorKind
	Reason string
}

func (e *GameError) Error() string {
	if e.Reason == "" {
		return kindNames[e.Kind]
	}
	return fmt.Sprintf("%s: %s", kindNames[e.Kind], e.Reason)
}

func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotAllowed           = &GameError{Kind: KindNotAllowed}
	ErrNoSuchAbility        = &GameError{Kind: KindNoSuchAbility}
	ErrInvalidTarget        = &GameError{Kind: KindInvalidTarget}
	ErrUnsupportedAbility   = &GameError{Kind: KindUnsupportedAbility}
	ErrNotAllowedToVote     = &GameError{Kind: KindNotAllowedToVote}
	ErrNotAllowedTarget     = &GameError{Kind: KindNotAllowedTarget}
	ErrVoteNotStarted       = &GameError{Kind: KindVoteNotStarted}
	ErrVoteClosed           = &GameError{Kind: KindVoteClosed}
	ErrVoterFraud           = &GameError{Kind: KindVoterFraud}
	ErrAlreadyVoted         = &GameError{Kind: KindAlreadyVoted}
	ErrNotAllowedToJoinVote = &GameError{Kind: KindNotAllowedToJoinVote}
	ErrNoSuchMessage        = &GameError{Kind: KindNoSuchMessage}
	ErrNoSuchVote           = &GameError{Kind: KindNoSuchVote}
	ErrCutOffChain          = &GameError{Kind: KindCutOffChain}
)

func notAllowed(format string, args ...any) *GameError {
	return &GameError{Kind: KindNotAllowed, Reason: fmt.Sprintf(format, args...)}
}

func noSuchAbility(format string, args ...any) *GameError {
	return &GameError{Kind: KindNoSuchAbility, Reason: fmt.Sprintf(format, args...)}
}

func invalidTarget(format string, args ...any) *GameError {
	return &GameError{Kind: KindInvalidTarget, Reason: fmt.Sprintf(format, args...)}
}

func unsupportedAbility(format string, args ...any) *GameError {
	return &GameError{Kind: KindUnsupportedAbility, Reason: fmt.Sprintf(format, args...)}
}

func votingError(kind ErrorKind, format string, args ...any) *GameError {
	return &GameError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func noSuchMessage(format string, args ...any) *GameError {
	return &GameError{Kind: KindNoSuchMessage, Reason: fmt.Sprintf(format, args...)}
}

func cutOffChain(format string, args ...any) *GameError {
	return &GameError{Kind: KindCutOffChain, Reason: fmt.Sprintf(format, args...)}
}
