package world

import (
	"errors"
	"testing"
)

func snapshotOf(tick Tick, entities map[EntityID]ComponentSet) WorldSnapshot {
	return WorldSnapshot{Tick: tick, Entities: entities}
}

func TestDiffApplyAddRemoveModify(t *testing.T) {
	base := snapshotOf(10, map[EntityID]ComponentSet{
		1: {Mask: CompPosition | CompVelocity, Position: Position{X: 1, Y: 1}, Velocity: Velocity{X: 1}},
		2: {Mask: CompPosition, Position: Position{X: 5, Y: 5}},
		3: {Mask: CompPosition | CompWeapon, Position: Position{X: 9}, Weapon: Weapon{Cooldown: 3}},
		4: {Mask: CompBot | CompPosition, Bot: Bot{Cooldown: 7}},
	})
	target := snapshotOf(14, map[EntityID]ComponentSet{
		// 1: position changed, velocity unchanged
		1: {Mask: CompPosition | CompVelocity, Position: Position{X: 2, Y: 1}, Velocity: Velocity{X: 1}},
		// 2: removed
		// 3: weapon component cleared, owner added
		3: {Mask: CompPosition | CompOwner, Position: Position{X: 9}, Owner: 4},
		// 4: unchanged
		4: {Mask: CompBot | CompPosition, Bot: Bot{Cooldown: 7}},
		// 5: added
		5: {Mask: CompProjectile | CompPosition, Projectile: Projectile{TicksLeft: 9, Shooter: 1}},
	})

	d := Diff(base, target)
	if d.Full {
		t.Fatalf("expected delta, got full")
	}
	if d.BaseTick != 10 || d.Tick != 14 {
		t.Fatalf("unexpected ticks: base=%d tick=%d", d.BaseTick, d.Tick)
	}
	if len(d.Removed) != 1 || d.Removed[0] != 2 {
		t.Fatalf("expected entity 2 removed, got %v", d.Removed)
	}
	seen := map[EntityID]bool{}
	for _, e := range d.Changed {
		if seen[e.ID] {
			t.Fatalf("entity %d appears twice", e.ID)
		}
		seen[e.ID] = true
	}
	if seen[4] {
		t.Fatalf("unchanged entity 4 should not be in delta")
	}
	for _, e := range d.Changed {
		if e.ID == 1 && e.Set.Mask != CompPosition {
			t.Fatalf("expected only position for entity 1, got mask %b", e.Set.Mask)
		}
	}

	got, err := Apply(base, d)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !got.Equal(target) {
		t.Fatalf("expected applied delta to equal target\n got: %+v\nwant: %+v", got, target)
	}
	if len(base.Entities) != 4 {
		t.Fatalf("apply must not mutate base")
	}
}

func TestApplyFullIgnoresBase(t *testing.T) {
	target := snapshotOf(3, map[EntityID]ComponentSet{
		7: {Mask: CompPosition, Position: Position{X: 70}},
	})
	stale := snapshotOf(1, map[EntityID]ComponentSet{
		1: {Mask: CompPosition},
	})
	got, err := Apply(stale, Full(target))
	if err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if !got.Equal(target) {
		t.Fatalf("expected %+v, got %+v", target, got)
	}
}

func TestApplyRejectsWrongBase(t *testing.T) {
	base := snapshotOf(5, map[EntityID]ComponentSet{})
	d := Delta{Tick: 8, BaseTick: 6}
	if _, err := Apply(base, d); !errors.Is(err, ErrBaseMismatch) {
		t.Fatalf("expected ErrBaseMismatch, got %v", err)
	}
}

func TestApplyRejectsDuplicateEntity(t *testing.T) {
	base := snapshotOf(5, map[EntityID]ComponentSet{1: {Mask: CompPosition}})
	d := Delta{Tick: 6, BaseTick: 5, Changed: []EntityDiff{
		{ID: 1, Set: ComponentSet{Mask: CompPosition, Position: Position{X: 1}}},
	}, Removed: []EntityID{1}}
	if _, err := Apply(base, d); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected ErrDuplicateEntity, got %v", err)
	}
}

func TestHashIgnoresTickAndTracksState(t *testing.T) {
	a := snapshotOf(1, map[EntityID]ComponentSet{1: {Mask: CompPosition, Position: Position{X: 1}}})
	b := snapshotOf(2, map[EntityID]ComponentSet{1: {Mask: CompPosition, Position: Position{X: 1}}})
	c := snapshotOf(1, map[EntityID]ComponentSet{1: {Mask: CompPosition, Position: Position{X: 2}}})
	if a.Hash() != b.Hash() {
		t.Fatalf("expected equal hash for equal state")
	}
	if a.Hash() == c.Hash() {
		t.Fatalf("expected different hash for different state")
	}
}

func TestHistoryOverwritesOldTicks(t *testing.T) {
	h := NewHistory(3)
	for tk := Tick(1); tk <= 5; tk++ {
		h.Put(WorldSnapshot{Tick: tk})
	}
	if _, ok := h.Get(2); ok {
		t.Fatalf("expected tick 2 evicted")
	}
	if s, ok := h.Get(4); !ok || s.Tick != 4 {
		t.Fatalf("expected tick 4 retained")
	}
	if h.Put(WorldSnapshot{Tick: 3}) {
		t.Fatalf("expected older tick rejected")
	}
	if s, ok := h.Latest(); !ok || s.Tick != 5 {
		t.Fatalf("expected latest 5")
	}
}
