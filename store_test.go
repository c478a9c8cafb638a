package werewolf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testStore opens a fresh named in-memory database per test so parallel
// tests never share state.
func testStore(t *testing.T) *SQLStore {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	store, err := OpenSQLStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	// One pooled connection serializes concurrent test goroutines instead
	// of surfacing SQLITE_LOCKED from the shared cache.
	store.db.SetMaxOpenConns(1)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWithBusyTimeout(t *testing.T) {
	cases := []struct{ in, want string }{
		{"game.db", "game.db?_busy_timeout=5000"},
		{"file:x?mode=memory", "file:x?mode=memory&_busy_timeout=5000"},
		{"file:y?_busy_timeout=100", "file:y?_busy_timeout=100"},
	}
	for _, tc := range cases {
		if got := withBusyTimeout(tc.in); got != tc.want {
			t.Fatalf("withBusyTimeout(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func testInstance(t *testing.T, store *SQLStore, phase Phase, day int) InstanceRecord {
	t.Helper()
	inst := InstanceRecord{ID: uuid.NewString(), Day: day, Phase: phase, Speed: SpeedNormal}
	if err := store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatalf("creating test instance: %v", err)
	}
	return inst
}

func testPlayer(t *testing.T, store *SQLStore, instanceID, userID string, role RoleKind, alive bool) PlayerIdentifier {
	t.Helper()
	id := PlayerIdentifier{InstanceID: instanceID, UserID: userID}
	err := store.AddPlayer(context.Background(), PlayerState{ID: id, Role: role, Alive: alive})
	if err != nil {
		t.Fatalf("adding test player %s: %v", userID, err)
	}
	return id
}

func TestItemCountRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)

	count, err := store.CountItems(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 items initially, got %d", count)
	}

	if err := store.AddItem(ctx, henk, ItemFang); err != nil {
		t.Fatalf("adding item: %v", err)
	}
	removed, err := store.RemoveItem(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("removing item: %v", err)
	}
	if !removed {
		t.Fatal("expected removal of an existing item to succeed")
	}

	count, err = store.CountItems(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if count != 0 {
		t.Fatalf("add followed by remove should restore the count, got %d", count)
	}
}

func TestRemoveItemAtZeroFails(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)

	removed, err := store.RemoveItem(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("removing item: %v", err)
	}
	if removed {
		t.Fatal("removing an item the player does not hold must report false")
	}

	// Count never goes negative, even after a stocked item is drained.
	if err := store.AddItem(ctx, henk, ItemFang); err != nil {
		t.Fatalf("adding item: %v", err)
	}
	if _, err := store.RemoveItem(ctx, henk, ItemFang); err != nil {
		t.Fatalf("removing item: %v", err)
	}
	removed, err = store.RemoveItem(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("removing item: %v", err)
	}
	if removed {
		t.Fatal("second removal past zero must report false")
	}
	count, err := store.CountItems(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if count != 0 {
		t.Fatalf("count must stay at zero, got %d", count)
	}
}

func TestMarkActionExecutedIsCompareAndSwap(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)

	action := ActionRecord{
		ID:            uuid.NewString(),
		InstanceID:    inst.ID,
		Actor:         henk,
		Kind:          AbilityBite,
		PlayerTargets: []PlayerIdentifier{{InstanceID: inst.ID, UserID: "jan"}},
		SubmittedAt:   time.Now().UTC(),
		Status:        ActionNotExecuted,
	}
	if err := store.InsertAction(ctx, action); err != nil {
		t.Fatalf("inserting action: %v", err)
	}

	advanced, err := store.MarkActionExecuted(ctx, action.ID)
	if err != nil {
		t.Fatalf("marking executed: %v", err)
	}
	if !advanced {
		t.Fatal("first transition must win")
	}
	advanced, err = store.MarkActionExecuted(ctx, action.ID)
	if err != nil {
		t.Fatalf("marking executed again: %v", err)
	}
	if advanced {
		t.Fatal("second transition of the same action must lose")
	}

	got, err := store.Action(ctx, action.ID)
	if err != nil {
		t.Fatalf("loading action: %v", err)
	}
	if got.Status != ActionExecuted {
		t.Fatalf("expected status %s, got %s", ActionExecuted, got.Status)
	}
}

func TestConsumeMessageCompletesAction(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleSeer, true)

	action := ActionRecord{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		Actor:       henk,
		Kind:        AbilityInvestigate,
		SubmittedAt: time.Now().UTC(),
		Status:      ActionNotExecuted,
	}
	if err := store.InsertAction(ctx, action); err != nil {
		t.Fatalf("inserting action: %v", err)
	}
	first := MessageRecord{ID: uuid.NewString(), ActionID: action.ID, Recipient: henk, Kind: "result", Payload: []string{"a"}, Status: MessageLocked}
	second := MessageRecord{ID: uuid.NewString(), ActionID: action.ID, Recipient: henk, Kind: "result", Payload: []string{"b"}, Status: MessageLocked}
	for _, m := range []MessageRecord{first, second} {
		if err := store.InsertMessage(ctx, m); err != nil {
			t.Fatalf("inserting message: %v", err)
		}
	}

	if _, err := store.MarkActionExecuted(ctx, action.ID); err != nil {
		t.Fatalf("marking executed: %v", err)
	}
	if err := store.UnlockMessagesForAction(ctx, action.ID); err != nil {
		t.Fatalf("unlocking messages: %v", err)
	}

	if _, err := store.ConsumeMessage(ctx, first.ID); err != nil {
		t.Fatalf("consuming first message: %v", err)
	}
	got, err := store.Action(ctx, action.ID)
	if err != nil {
		t.Fatalf("loading action: %v", err)
	}
	if got.Status != ActionExecuted {
		t.Fatalf("action must not complete with a message still pending, got %s", got.Status)
	}

	if _, err := store.ConsumeMessage(ctx, second.ID); err != nil {
		t.Fatalf("consuming second message: %v", err)
	}
	got, err = store.Action(ctx, action.ID)
	if err != nil {
		t.Fatalf("loading action: %v", err)
	}
	if got.Status != ActionCompleted {
		t.Fatalf("action must complete once every message is sent, got %s", got.Status)
	}
}

func TestConsumeMessageIsAtMostOnce(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleSeer, true)

	action := ActionRecord{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		Actor:       henk,
		Kind:        AbilityInvestigate,
		SubmittedAt: time.Now().UTC(),
		Status:      ActionExecuted,
	}
	if err := store.InsertAction(ctx, action); err != nil {
		t.Fatalf("inserting action: %v", err)
	}
	msg := MessageRecord{ID: uuid.NewString(), ActionID: action.ID, Recipient: henk, Kind: "result", Status: MessageNotSent}
	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("inserting message: %v", err)
	}

	if _, err := store.ConsumeMessage(ctx, msg.ID); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	_, err := store.ConsumeMessage(ctx, msg.ID)
	if !errors.Is(err, ErrNoSuchMessage) {
		t.Fatalf("second consume must fail with no-such-message, got %v", err)
	}

	// A still-locked message is likewise not consumable.
	locked := MessageRecord{ID: uuid.NewString(), ActionID: action.ID, Recipient: henk, Kind: "result", Status: MessageLocked}
	if err := store.InsertMessage(ctx, locked); err != nil {
		t.Fatalf("inserting locked message: %v", err)
	}
	_, err = store.ConsumeMessage(ctx, locked.ID)
	if !errors.Is(err, ErrNoSuchMessage) {
		t.Fatalf("consuming a locked message must fail, got %v", err)
	}
}

func TestOngoingVoteLookup(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseDay, 1)

	_, err := store.OngoingVote(ctx, inst.ID, VoteTypeLynch)
	if !errors.Is(err, ErrNoSuchVote) {
		t.Fatalf("expected no-such-vote, got %v", err)
	}

	rec := VoteRecord{ID: uuid.NewString(), InstanceID: inst.ID, Type: VoteTypeLynch, Started: true}
	if err := store.SaveVote(ctx, rec); err != nil {
		t.Fatalf("saving vote: %v", err)
	}
	got, err := store.OngoingVote(ctx, inst.ID, VoteTypeLynch)
	if err != nil {
		t.Fatalf("looking up vote: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("expected vote %s, got %s", rec.ID, got.ID)
	}

	rec.Ended = true
	if err := store.SaveVote(ctx, rec); err != nil {
		t.Fatalf("ending vote: %v", err)
	}
	if _, err := store.OngoingVote(ctx, inst.ID, VoteTypeLynch); !errors.Is(err, ErrNoSuchVote) {
		t.Fatalf("an ended vote is not ongoing, got %v", err)
	}
}
