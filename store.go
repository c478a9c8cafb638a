package werewolf

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Repository on SQLite via sqlx. All compare-and-swap
// transitions are conditional UPDATEs checked through RowsAffected, so two
// racing callers can never both win the same transition.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLStore connects to the given SQLite DSN and bootstraps the schema.
// The busy timeout rides on the DSN so every pooled connection waits on a
// locked database instead of failing immediately.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite3", withBusyTimeout(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// withBusyTimeout adds the driver's busy-timeout parameter to a DSN that
// does not already carry one. A caller-supplied value wins.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}

func (s *SQLStore) InitSchema() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS instance (
		id TEXT PRIMARY KEY,
		day INTEGER NOT NULL DEFAULT 0,
		phase TEXT NOT NULL DEFAULT 'evening',
		speed TEXT NOT NULL DEFAULT 'normal',
		finished INTEGER NOT NULL DEFAULT 0,
		winner TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS game_player (
		instance_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		is_alive INTEGER NOT NULL DEFAULT 1,
		UNIQUE(instance_id, user_id),
		FOREIGN KEY (instance_id) REFERENCES instance(id)
	);
	CREATE TABLE IF NOT EXISTS item (
		instance_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		UNIQUE(instance_id, user_id, kind)
	);
	CREATE TABLE IF NOT EXISTS game_action (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		actor_user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		player_targets TEXT NOT NULL DEFAULT '[]',
		location_targets TEXT NOT NULL DEFAULT '[]',
		submitted_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'not_executed',
		FOREIGN KEY (instance_id) REFERENCES instance(id)
	);
	CREATE INDEX IF NOT EXISTS idx_game_action_status ON game_action(instance_id, status);
	CREATE TABLE IF NOT EXISTS action_message (
		id TEXT PRIMARY KEY,
		action_id TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		recipient_user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'locked',
		FOREIGN KEY (action_id) REFERENCES game_action(id)
	);
	CREATE INDEX IF NOT EXISTS idx_action_message_recipient ON action_message(instance_id, recipient_user_id, status);
	CREATE TABLE IF NOT EXISTS vote (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		vote_type TEXT NOT NULL,
		started INTEGER NOT NULL DEFAULT 0,
		ended INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS ballot (
		vote_id TEXT NOT NULL,
		voter_user_id TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		UNIQUE(vote_id, voter_user_id),
		FOREIGN KEY (vote_id) REFERENCES vote(id)
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ---- instance clock ----

func (s *SQLStore) CreateInstance(ctx context.Context, inst InstanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance (id, day, phase, speed, finished, winner)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Day, inst.Phase, inst.Speed, inst.Finished, inst.Winner)
	return err
}

func (s *SQLStore) Instance(ctx context.Context, instanceID string) (InstanceRecord, error) {
	var inst InstanceRecord
	err := s.db.GetContext(ctx, &inst,
		`SELECT id, day, phase, speed, finished, winner FROM instance WHERE id = ?`, instanceID)
	return inst, err
}

func (s *SQLStore) AdvanceInstance(ctx context.Context, instanceID string, day int, phase Phase) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instance SET day = ?, phase = ? WHERE id = ?`, day, phase, instanceID)
	return err
}

func (s *SQLStore) FinishInstance(ctx context.Context, instanceID string, winner Faction) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instance SET finished = 1, winner = ? WHERE id = ?`, winner, instanceID)
	return err
}

// ---- players ----

type playerRow struct {
	InstanceID string `db:"instance_id"`
	UserID     string `db:"user_id"`
	Role       string `db:"role"`
	IsAlive    bool   `db:"is_alive"`
}

func (r playerRow) state() PlayerState {
	return PlayerState{
		ID:    PlayerIdentifier{InstanceID: r.InstanceID, UserID: r.UserID},
		Role:  RoleKind(r.Role),
		Alive: r.IsAlive,
	}
}

func (s *SQLStore) AddPlayer(ctx context.Context, p PlayerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_player (instance_id, user_id, role, is_alive)
		VALUES (?, ?, ?, ?)`,
		p.ID.InstanceID, p.ID.UserID, p.Role, p.Alive)
	return err
}

func (s *SQLStore) Player(ctx context.Context, id PlayerIdentifier) (PlayerState, error) {
	var row playerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT instance_id, user_id, role, is_alive FROM game_player
		WHERE instance_id = ? AND user_id = ?`, id.InstanceID, id.UserID)
	if err != nil {
		return PlayerState{}, err
	}
	return row.state(), nil
}

func (s *SQLStore) PlayersByInstance(ctx context.Context, instanceID string) ([]PlayerState, error) {
	var rows []playerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT instance_id, user_id, role, is_alive FROM game_player
		WHERE instance_id = ? ORDER BY user_id`, instanceID)
	if err != nil {
		return nil, err
	}
	players := make([]PlayerState, 0, len(rows))
	for _, r := range rows {
		players = append(players, r.state())
	}
	return players, nil
}

func (s *SQLStore) SetAlive(ctx context.Context, id PlayerIdentifier, alive bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE game_player SET is_alive = ? WHERE instance_id = ? AND user_id = ?`,
		alive, id.InstanceID, id.UserID)
	return err
}

func (s *SQLStore) SetRole(ctx context.Context, id PlayerIdentifier, role RoleKind) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE game_player SET role = ? WHERE instance_id = ? AND user_id = ?`,
		role, id.InstanceID, id.UserID)
	return err
}

// ---- item ledger ----

func (s *SQLStore) AddItem(ctx context.Context, owner PlayerIdentifier, kind ItemKind) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item (instance_id, user_id, kind, count) VALUES (?, ?, ?, 1)
		ON CONFLICT(instance_id, user_id, kind) DO UPDATE SET count = count + 1`,
		owner.InstanceID, owner.UserID, kind)
	return err
}

func (s *SQLStore) RemoveItem(ctx context.Context, owner PlayerIdentifier, kind ItemKind) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE item SET count = count - 1
		WHERE instance_id = ? AND user_id = ? AND kind = ? AND count > 0`,
		owner.InstanceID, owner.UserID, kind)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) CountItems(ctx context.Context, owner PlayerIdentifier, kind ItemKind) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COALESCE(SUM(count), 0) FROM item
		WHERE instance_id = ? AND user_id = ? AND kind = ?`,
		owner.InstanceID, owner.UserID, kind)
	return count, err
}

func (s *SQLStore) ClearItems(ctx context.Context, owner PlayerIdentifier, kind ItemKind) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM item WHERE instance_id = ? AND user_id = ? AND kind = ?`,
		owner.InstanceID, owner.UserID, kind)
	return err
}

// ---- action log ----

type actionRow struct {
	ID              string    `db:"id"`
	InstanceID      string    `db:"instance_id"`
	ActorUserID     string    `db:"actor_user_id"`
	Kind            string    `db:"kind"`
	PlayerTargets   string    `db:"player_targets"`
	LocationTargets string    `db:"location_targets"`
	SubmittedAt     time.Time `db:"submitted_at"`
	Status          string    `db:"status"`
}

func (r actionRow) record() (ActionRecord, error) {
	var playerTargets []PlayerIdentifier
	if err := json.Unmarshal([]byte(r.PlayerTargets), &playerTargets); err != nil {
		return ActionRecord{}, fmt.Errorf("decode player targets of action %s: %w", r.ID, err)
	}
	var locationTargets []string
	if err := json.Unmarshal([]byte(r.LocationTargets), &locationTargets); err != nil {
		return ActionRecord{}, fmt.Errorf("decode location targets of action %s: %w", r.ID, err)
	}
	return ActionRecord{
		ID:              r.ID,
		InstanceID:      r.InstanceID,
		Actor:           PlayerIdentifier{InstanceID: r.InstanceID, UserID: r.ActorUserID},
		Kind:            AbilityKind(r.Kind),
		PlayerTargets:   playerTargets,
		LocationTargets: locationTargets,
		SubmittedAt:     r.SubmittedAt,
		Status:          ActionStatus(r.Status),
	}, nil
}

func asJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func (s *SQLStore) InsertAction(ctx context.Context, a ActionRecord) error {
	playerTargets := a.PlayerTargets
	if playerTargets == nil {
		playerTargets = []PlayerIdentifier{}
	}
	locationTargets := a.LocationTargets
	if locationTargets == nil {
		locationTargets = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_action (id, instance_id, actor_user_id, kind, player_targets, location_targets, submitted_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.InstanceID, a.Actor.UserID, a.Kind,
		asJSON(playerTargets), asJSON(locationTargets), a.SubmittedAt, a.Status)
	return err
}

func (s *SQLStore) Action(ctx context.Context, actionID string) (ActionRecord, error) {
	var row actionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, instance_id, actor_user_id, kind, player_targets, location_targets, submitted_at, status
		FROM game_action WHERE id = ?`, actionID)
	if err != nil {
		return ActionRecord{}, err
	}
	return row.record()
}

func (s *SQLStore) ActionsByStatus(ctx context.Context, instanceID string, status ActionStatus) ([]ActionRecord, error) {
	var rows []actionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, instance_id, actor_user_id, kind, player_targets, location_targets, submitted_at, status
		FROM game_action WHERE instance_id = ? AND status = ?
		ORDER BY submitted_at, id`, instanceID, status)
	if err != nil {
		return nil, err
	}
	actions := make([]ActionRecord, 0, len(rows))
	for _, r := range rows {
		a, err := r.record()
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (s *SQLStore) MarkActionExecuted(ctx context.Context, actionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE game_action SET status = ? WHERE id = ? AND status = ?`,
		ActionExecuted, actionID, ActionNotExecuted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- messages ----

type messageRow struct {
	ID              string `db:"id"`
	ActionID        string `db:"action_id"`
	InstanceID      string `db:"instance_id"`
	RecipientUserID string `db:"recipient_user_id"`
	Kind            string `db:"kind"`
	Payload         string `db:"payload"`
	Status          string `db:"status"`
}

func (r messageRow) record() (MessageRecord, error) {
	var payload []string
	if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
		return MessageRecord{}, fmt.Errorf("decode payload of message %s: %w", r.ID, err)
	}
	return MessageRecord{
		ID:        r.ID,
		ActionID:  r.ActionID,
		Recipient: PlayerIdentifier{InstanceID: r.InstanceID, UserID: r.RecipientUserID},
		Kind:      r.Kind,
		Payload:   payload,
		Status:    MessageStatus(r.Status),
	}, nil
}

func (s *SQLStore) InsertMessage(ctx context.Context, m MessageRecord) error {
	payload := m.Payload
	if payload == nil {
		payload = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_message (id, action_id, instance_id, recipient_user_id, kind, payload, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ActionID, m.Recipient.InstanceID, m.Recipient.UserID, m.Kind, asJSON(payload), m.Status)
	return err
}

func (s *SQLStore) UnlockMessagesForAction(ctx context.Context, actionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE action_message SET status = ? WHERE action_id = ? AND status = ?`,
		MessageNotSent, actionID, MessageLocked)
	return err
}

func (s *SQLStore) UnlockMessagesForInstance(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE action_message SET status = ? WHERE instance_id = ? AND status = ?`,
		MessageNotSent, instanceID, MessageLocked)
	return err
}

// ConsumeMessage delivers a message exactly once: the NOT_SENT -> SENT flip
// is the serialization point, so a second concurrent delivery attempt loses
// the conditional UPDATE and reports no such message.
func (s *SQLStore) ConsumeMessage(ctx context.Context, messageID string) (MessageRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return MessageRecord{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE action_message SET status = ? WHERE id = ? AND status = ?`,
		MessageSent, messageID, MessageNotSent)
	if err != nil {
		return MessageRecord{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return MessageRecord{}, err
	}
	if n == 0 {
		return MessageRecord{}, noSuchMessage("message %s is absent or already sent", messageID)
	}

	var row messageRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, action_id, instance_id, recipient_user_id, kind, payload, status
		FROM action_message WHERE id = ?`, messageID)
	if err != nil {
		return MessageRecord{}, err
	}

	// The action is complete once no message of it still awaits delivery.
	var remaining int
	err = tx.GetContext(ctx, &remaining, `
		SELECT COUNT(*) FROM action_message WHERE action_id = ? AND status != ?`,
		row.ActionID, MessageSent)
	if err != nil {
		return MessageRecord{}, err
	}
	if remaining == 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE game_action SET status = ? WHERE id = ? AND status = ?`,
			ActionCompleted, row.ActionID, ActionExecuted)
		if err != nil {
			return MessageRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return MessageRecord{}, err
	}
	return row.record()
}

func (s *SQLStore) PendingMessages(ctx context.Context, recipient PlayerIdentifier) ([]MessageRecord, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, action_id, instance_id, recipient_user_id, kind, payload, status
		FROM action_message
		WHERE instance_id = ? AND recipient_user_id = ? AND status = ?
		ORDER BY rowid`, recipient.InstanceID, recipient.UserID, MessageNotSent)
	if err != nil {
		return nil, err
	}
	messages := make([]MessageRecord, 0, len(rows))
	for _, r := range rows {
		m, err := r.record()
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// ---- votes ----

func (s *SQLStore) SaveVote(ctx context.Context, v VoteRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vote (id, instance_id, vote_type, started, ended)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET started = ?, ended = ?`,
		v.ID, v.InstanceID, v.Type, v.Started, v.Ended, v.Started, v.Ended)
	return err
}

func (s *SQLStore) InsertBallot(ctx context.Context, b BallotRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ballot (vote_id, voter_user_id, target_user_id)
		VALUES (?, ?, ?)
		ON CONFLICT(vote_id, voter_user_id) DO UPDATE SET target_user_id = ?`,
		b.VoteID, b.Voter.UserID, b.Target.UserID, b.Target.UserID)
	return err
}

func (s *SQLStore) OngoingVote(ctx context.Context, instanceID, voteType string) (VoteRecord, error) {
	var v VoteRecord
	err := s.db.GetContext(ctx, &v, `
		SELECT id, instance_id, vote_type, started, ended FROM vote
		WHERE instance_id = ? AND vote_type = ? AND started = 1 AND ended = 0
		ORDER BY rowid DESC LIMIT 1`, instanceID, voteType)
	if err == sql.ErrNoRows {
		return VoteRecord{}, &GameError{Kind: KindNoSuchVote, Reason: "no ongoing " + voteType + " vote"}
	}
	return v, err
}
