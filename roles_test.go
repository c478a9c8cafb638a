package werewolf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func testRoleDeps(t *testing.T) (RoleDeps, *SQLStore) {
	t.Helper()
	store := testStore(t)
	return RoleDeps{Repo: store, Items: NewItemLedger(store), Log: NewActionLog(store)}, store
}

func TestArcherShootRequiresArrow(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseDay, 4)
	henk := testPlayer(t, store, inst.ID, "henk", RoleArcher, true)
	jan := testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)

	archer, err := NewRole(RoleArcher, deps)
	if err != nil {
		t.Fatalf("constructing archer: %v", err)
	}
	if err := archer.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing archer: %v", err)
	}

	// Archers start without arrows.
	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan}}}
	_, err = archer.PerformAction(ctx, req, AbilityShoot)
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("shooting without an arrow must be rejected, got %v", err)
	}

	if err := deps.Items.AddPlayerItem(ctx, henk, ItemArrow); err != nil {
		t.Fatalf("granting arrow: %v", err)
	}
	actionID, err := archer.PerformAction(ctx, req, AbilityShoot)
	if err != nil {
		t.Fatalf("shooting with an arrow: %v", err)
	}

	count, err := deps.Items.AmountOfItems(ctx, henk, ItemArrow)
	if err != nil {
		t.Fatalf("counting arrows: %v", err)
	}
	if count != 0 {
		t.Fatalf("the shot must consume the arrow, got %d left", count)
	}
	actions, err := store.ActionsByStatus(ctx, inst.ID, ActionNotExecuted)
	if err != nil {
		t.Fatalf("listing actions: %v", err)
	}
	if len(actions) != 1 || actions[0].ID != actionID {
		t.Fatalf("expected exactly the submitted action, got %v", actions)
	}
}

func TestArcherReplenishCadence(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()

	for _, tc := range []struct {
		day  int
		want int
	}{
		{day: 0, want: 0},
		{day: 2, want: 0},
		{day: 4, want: 1},
		{day: 8, want: 1},
	} {
		inst := testInstance(t, store, PhaseMorning, tc.day)
		henk := testPlayer(t, store, inst.ID, "henk", RoleArcher, true)
		archer, err := NewRole(RoleArcher, deps)
		if err != nil {
			t.Fatalf("constructing archer: %v", err)
		}

		if err := archer.ReplenishAction(ctx, SpeedNormal, henk); err != nil {
			t.Fatalf("day %d: replenishing: %v", tc.day, err)
		}
		count, err := deps.Items.AmountOfItems(ctx, henk, ItemArrow)
		if err != nil {
			t.Fatalf("day %d: counting arrows: %v", tc.day, err)
		}
		if count != tc.want {
			t.Fatalf("day %d: expected %d arrows, got %d", tc.day, tc.want, count)
		}
	}
}

func TestArcherReplenishDropsStaleArrows(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseMorning, 5)
	henk := testPlayer(t, store, inst.ID, "henk", RoleArcher, true)

	if err := deps.Items.AddPlayerItem(ctx, henk, ItemArrow); err != nil {
		t.Fatalf("granting arrow: %v", err)
	}
	archer, err := NewRole(RoleArcher, deps)
	if err != nil {
		t.Fatalf("constructing archer: %v", err)
	}
	if err := archer.ReplenishAction(ctx, SpeedNormal, henk); err != nil {
		t.Fatalf("replenishing: %v", err)
	}

	count, err := deps.Items.AmountOfItems(ctx, henk, ItemArrow)
	if err != nil {
		t.Fatalf("counting arrows: %v", err)
	}
	if count != 0 {
		t.Fatalf("day 5 is off-cadence, the stale arrow must be cleared, got %d", count)
	}
}

func TestDeadPlayersCannotAct(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, false)
	jan := testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}
	// Liveness gates independently of item count.
	if err := deps.Items.AddPlayerItem(ctx, henk, ItemFang); err != nil {
		t.Fatalf("granting fang: %v", err)
	}

	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan}}}
	_, err = wolf.PerformAction(ctx, req, AbilityBite)
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("a dead werewolf may not bite, got %v", err)
	}
}

func TestUnknownAbilityKind(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)
	jan := testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}
	if err := wolf.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing werewolf: %v", err)
	}

	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan}}}
	_, err = wolf.PerformAction(ctx, req, AbilityShoot)
	if !errors.Is(err, ErrNoSuchAbility) {
		t.Fatalf("a werewolf cannot shoot, got %v", err)
	}
}

func TestTownspersonHasNoAbilities(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleTownsperson, true)

	villager, err := NewRole(RoleTownsperson, deps)
	if err != nil {
		t.Fatalf("constructing townsperson: %v", err)
	}
	_, err = villager.PerformAction(ctx, ActionRequest{Actor: henk}, AbilityBite)
	if !errors.Is(err, ErrUnsupportedAbility) {
		t.Fatalf("townsperson abilities must be distinctly unsupported, got %v", err)
	}
	if kinds := villager.AbilityKinds(); len(kinds) != 0 {
		t.Fatalf("townsperson declares no abilities, got %v", kinds)
	}
}

func TestOffPhaseAbilityIsRejected(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseDay, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)
	jan := testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}
	if err := wolf.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing werewolf: %v", err)
	}

	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan}}}
	_, err = wolf.PerformAction(ctx, req, AbilityBite)
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("biting in broad daylight must be refused, got %v", err)
	}

	// The rejected attempt must not burn the fang.
	count, err := deps.Items.AmountOfItems(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("counting fangs: %v", err)
	}
	if count != 1 {
		t.Fatalf("off-phase attempt must not consume the item, got %d fangs", count)
	}
}

func TestBiteTargetShape(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)
	jan := testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)
	piet := testPlayer(t, store, inst.ID, "piet", RoleTownsperson, true)

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}
	if err := wolf.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing werewolf: %v", err)
	}

	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan, piet}}}
	_, err = wolf.PerformAction(ctx, req, AbilityBite)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("a bite takes exactly one target, got %v", err)
	}

	// The rejected attempt must not burn the fang.
	count, err := deps.Items.AmountOfItems(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("counting fangs: %v", err)
	}
	if count != 1 {
		t.Fatalf("invalid target must not consume the item, got %d fangs", count)
	}
}

func TestLastItemRaceHasOneWinner(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)
	jan := testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}
	if err := wolf.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing werewolf: %v", err)
	}

	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan}}}
	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = wolf.PerformAction(ctx, req, AbilityBite)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNotAllowed):
		default:
			t.Fatalf("unexpected error in race: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("one fang allows exactly one bite, got %d", wins)
	}
}

func TestSeerInvestigationMessage(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleSeer, true)
	jan := testPlayer(t, store, inst.ID, "jan", RoleWerewolf, true)

	seer, err := NewRole(RoleSeer, deps)
	if err != nil {
		t.Fatalf("constructing seer: %v", err)
	}
	if err := seer.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing seer: %v", err)
	}

	req := ActionRequest{Actor: henk, Targets: Targets{Players: []PlayerIdentifier{jan}}}
	actionID, err := seer.PerformAction(ctx, req, AbilityInvestigate)
	if err != nil {
		t.Fatalf("investigating: %v", err)
	}

	// The verdict exists immediately but stays locked until the phase ends.
	pending, err := deps.Log.PendingMessagesFor(ctx, henk)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("the verdict must stay locked, got %d pending", len(pending))
	}

	if err := deps.Log.UnlockMessagesForAction(ctx, actionID); err != nil {
		t.Fatalf("unlocking: %v", err)
	}
	pending, err = deps.Log.PendingMessagesFor(ctx, henk)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the verdict message, got %d", len(pending))
	}
	payload := pending[0].Payload
	if len(payload) != 2 || payload[0] != "jan" || payload[1] != string(FactionWerewolves) {
		t.Fatalf("expected verdict [jan werewolves], got %v", payload)
	}
}

func TestWerewolfFangAllotmentScalesWithVillage(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "wolf00", RoleWerewolf, true)
	for i := 1; i < 20; i++ {
		testPlayer(t, store, inst.ID, fmt.Sprintf("villager%02d", i), RoleTownsperson, true)
	}

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}
	if err := wolf.ReplenishAction(ctx, SpeedNormal, henk); err != nil {
		t.Fatalf("replenishing: %v", err)
	}

	count, err := deps.Items.AmountOfItems(ctx, henk, ItemFang)
	if err != nil {
		t.Fatalf("counting fangs: %v", err)
	}
	if count != 2 {
		t.Fatalf("twenty living players grant two fangs, got %d", count)
	}
}

func TestEligibleTargetsRespectPhaseAndStock(t *testing.T) {
	deps, store := testRoleDeps(t)
	ctx := context.Background()
	inst := testInstance(t, store, PhaseNight, 1)
	henk := testPlayer(t, store, inst.ID, "henk", RoleWerewolf, true)
	testPlayer(t, store, inst.ID, "jan", RoleTownsperson, true)
	testPlayer(t, store, inst.ID, "piet", RoleWerewolf, true)

	wolf, err := NewRole(RoleWerewolf, deps)
	if err != nil {
		t.Fatalf("constructing werewolf: %v", err)
	}

	// No fang, no affordance.
	abilities, err := wolf.EligibleTargets(ctx, inst.ID, henk)
	if err != nil {
		t.Fatalf("querying targets: %v", err)
	}
	if len(abilities) != 0 {
		t.Fatalf("without a fang nothing is eligible, got %v", abilities)
	}

	if err := wolf.InitializeActions(ctx, henk); err != nil {
		t.Fatalf("initializing werewolf: %v", err)
	}
	abilities, err = wolf.EligibleTargets(ctx, inst.ID, henk)
	if err != nil {
		t.Fatalf("querying targets: %v", err)
	}
	if len(abilities) != 1 || abilities[0].Kind != AbilityBite {
		t.Fatalf("expected a bite affordance, got %v", abilities)
	}
	// Fellow werewolves are excluded from the eligible set.
	if len(abilities[0].Players) != 1 || abilities[0].Players[0].UserID != "jan" {
		t.Fatalf("only jan is a valid bite target, got %v", abilities[0].Players)
	}

	// Biting is a night ability; during the day the affordance vanishes.
	if err := store.AdvanceInstance(ctx, inst.ID, 1, PhaseDay); err != nil {
		t.Fatalf("advancing instance: %v", err)
	}
	abilities, err = wolf.EligibleTargets(ctx, inst.ID, henk)
	if err != nil {
		t.Fatalf("querying targets: %v", err)
	}
	if len(abilities) != 0 {
		t.Fatalf("bite is not available by day, got %v", abilities)
	}
}
