package werewolf

import "context"

// ItemKind tags a consumable resource backing an ability-use limit.
type ItemKind string

const (
	ItemFang    ItemKind = "fang"    // werewolf bite charge
	ItemArrow   ItemKind = "arrow"   // archer shot
	ItemBandage ItemKind = "bandage" // healer protection
	ItemCrystal ItemKind = "crystal" // seer investigation
	ItemShovel  ItemKind = "shovel"  // graverobber dig
)

// ItemLedger tracks consumable per-player resources. It is a pure counter
// store; the role resolver decides what holding an item means.
type ItemLedger struct {
	repo Repository
}

func NewItemLedger(repo Repository) *ItemLedger {
	return &ItemLedger{repo: repo}
}

// AddPlayerItem grants one unit of the given kind.
func (l *ItemLedger) AddPlayerItem(ctx context.Context, owner PlayerIdentifier, kind ItemKind) error {
	return l.repo.AddItem(ctx, owner, kind)
}

// DeletePlayerItem consumes one unit. It reports whether a unit was
// actually available; the count never drops below zero, and a race on the
// last unit yields exactly one true.
func (l *ItemLedger) DeletePlayerItem(ctx context.Context, owner PlayerIdentifier, kind ItemKind) (bool, error) {
	return l.repo.RemoveItem(ctx, owner, kind)
}

// AmountOfItems returns the current stock of the given kind.
func (l *ItemLedger) AmountOfItems(ctx context.Context, owner PlayerIdentifier, kind ItemKind) (int, error) {
	return l.repo.CountItems(ctx, owner, kind)
}

// ClearPlayerItems removes all remaining units of the given kind, used by
// replenishment to drop stale charges before granting the fresh allotment.
func (l *ItemLedger) ClearPlayerItems(ctx context.Context, owner PlayerIdentifier, kind ItemKind) error {
	return l.repo.ClearItems(ctx, owner, kind)
}
