package werewolf

import (
	"errors"
	"testing"
)

func chainPlayer(user string, role RoleKind, alive bool) PlayerState {
	return PlayerState{
		ID:    PlayerIdentifier{InstanceID: "game", UserID: user},
		Role:  role,
		Alive: alive,
	}
}

func TestCheckWinVisitsEveryNodeOnce(t *testing.T) {
	visits := make([]int, 3)
	nodes := make([]*WinHandler, 3)
	for i := range nodes {
		i := i
		nodes[i] = NewWinHandler(FactionTownspeople, func([]PlayerState) bool {
			visits[i]++
			return false
		})
	}
	if err := nodes[0].SetNext(nodes[1]); err != nil {
		t.Fatalf("linking: %v", err)
	}
	if err := nodes[1].SetNext(nodes[2]); err != nil {
		t.Fatalf("linking: %v", err)
	}

	winner := nodes[0].CheckWin([]PlayerState{chainPlayer("henk", RoleTownsperson, true)})
	if winner != "" {
		t.Fatalf("no node claims, expected no winner, got %s", winner)
	}
	for i, v := range visits {
		if v != 1 {
			t.Fatalf("node %d visited %d times, expected once", i, v)
		}
	}
}

func TestSetNextRefusesReassignment(t *testing.T) {
	a := NewWerewolvesWinHandler()
	b := NewTownspeopleWinHandler()
	c := NewTownspeopleWinHandler()

	if err := a.SetNext(b); err != nil {
		t.Fatalf("first link: %v", err)
	}
	err := a.SetNext(c)
	if !errors.Is(err, ErrCutOffChain) {
		t.Fatalf("reassigning a link must be refused, got %v", err)
	}
}

func TestSetNextRefusesCycle(t *testing.T) {
	a := NewWerewolvesWinHandler()
	b := NewTownspeopleWinHandler()

	if err := a.SetNext(b); err != nil {
		t.Fatalf("linking: %v", err)
	}
	err := b.SetNext(a)
	if !errors.Is(err, ErrCutOffChain) {
		t.Fatalf("closing a cycle must be refused, got %v", err)
	}
}

func TestWerewolvesWinWhenUnopposed(t *testing.T) {
	chain, err := DefaultWinChain(nil)
	if err != nil {
		t.Fatalf("building chain: %v", err)
	}

	alive := []PlayerState{
		chainPlayer("wolf", RoleWerewolf, true),
		chainPlayer("henk", RoleTownsperson, true),
	}
	if winner := chain.CheckWin(alive); winner != "" {
		t.Fatalf("game is still contested, got winner %s", winner)
	}

	alive = alive[:1]
	if winner := chain.CheckWin(alive); winner != FactionWerewolves {
		t.Fatalf("expected werewolves to win, got %q", winner)
	}
}

func TestTownspeopleWinWhenWolvesAreGone(t *testing.T) {
	chain, err := DefaultWinChain(nil)
	if err != nil {
		t.Fatalf("building chain: %v", err)
	}

	alive := []PlayerState{
		chainPlayer("henk", RoleTownsperson, true),
		chainPlayer("jan", RoleSeer, true),
	}
	if winner := chain.CheckWin(alive); winner != FactionTownspeople {
		t.Fatalf("expected townspeople to win, got %q", winner)
	}

	// An empty village is a draw, not a win.
	if winner := chain.CheckWin(nil); winner != "" {
		t.Fatalf("nobody can win an empty village, got %q", winner)
	}
}

func TestLoversOverrideFactionWins(t *testing.T) {
	romeo := PlayerIdentifier{InstanceID: "game", UserID: "romeo"}
	juliet := PlayerIdentifier{InstanceID: "game", UserID: "juliet"}
	chain, err := DefaultWinChain([]PlayerIdentifier{romeo, juliet})
	if err != nil {
		t.Fatalf("building chain: %v", err)
	}

	// A mixed-faction pair: neither faction wipe applies, but the lovers
	// standing alone together claim the game.
	alive := []PlayerState{
		{ID: romeo, Role: RoleWerewolf, Alive: true},
		{ID: juliet, Role: RoleTownsperson, Alive: true},
	}
	if winner := chain.CheckWin(alive); winner != FactionLovers {
		t.Fatalf("expected lovers to win, got %q", winner)
	}
}
