package world

import "testing"

func TestStepIsDeterministic(t *testing.T) {
	rules := DefaultRules(60)
	run := func() WorldSnapshot {
		w := New()
		rules.SpawnPlayer(w, 1)
		rules.SpawnPlayer(w, 2)
		rules.SpawnBot(w, Position{X: 10 * Unit, Y: 10 * Unit})
		for i := 0; i < 400; i++ {
			inputs := map[PeerID]Input{
				1: {Right: i%3 == 0, Up: i%5 == 0, Fire: i%7 == 0, AimX: 3, AimY: -4},
				2: {Left: true, Down: i%2 == 0},
			}
			rules.Step(w, inputs)
		}
		return w.Snapshot()
	}
	a, b := run(), run()
	if !a.Equal(b) {
		t.Fatalf("expected identical results from identical inputs")
	}
	if a.Tick != 400 {
		t.Fatalf("expected tick 400, got %d", a.Tick)
	}
}

func TestStepMovesAndClampsPlayer(t *testing.T) {
	rules := DefaultRules(10)
	w := New()
	id := rules.SpawnPlayer(w, 9)
	rules.Step(w, map[PeerID]Input{9: {Right: true}})
	p, _ := w.Position(id)
	want := rules.SpawnPoint().X + rules.MoveSpeed/10
	if p.X != want {
		t.Fatalf("expected x=%d, got %d", want, p.X)
	}
	// velocity persists without new input
	rules.Step(w, nil)
	p, _ = w.Position(id)
	if p.X != want+rules.MoveSpeed/10 {
		t.Fatalf("expected held velocity, got x=%d", p.X)
	}
	for i := 0; i < 1000; i++ {
		rules.Step(w, nil)
	}
	p, _ = w.Position(id)
	if p.X != rules.Width {
		t.Fatalf("expected clamp at %d, got %d", rules.Width, p.X)
	}
}

func TestFireSpawnsProjectileThatExpires(t *testing.T) {
	rules := DefaultRules(10)
	w := New()
	rules.SpawnPlayer(w, 1)
	rules.Step(w, map[PeerID]Input{1: {Fire: true, AimY: 1}})
	if w.Len() != 2 {
		t.Fatalf("expected projectile to spawn, got %d entities", w.Len())
	}
	// cooldown blocks a second shot
	rules.Step(w, map[PeerID]Input{1: {Fire: true, AimY: 1}})
	if w.Len() != 2 {
		t.Fatalf("expected cooldown to block fire, got %d entities", w.Len())
	}
	for i := 0; i < int(rules.ProjectileLifetime)+1; i++ {
		rules.Step(w, map[PeerID]Input{1: {}})
	}
	if w.Len() != 1 {
		t.Fatalf("expected projectile to expire, got %d entities", w.Len())
	}
}

func TestBotCastsRing(t *testing.T) {
	rules := DefaultRules(10)
	w := New()
	rules.SpawnBot(w, rules.SpawnPoint())
	for i := 0; i < int(rules.BotCastInterval); i++ {
		rules.Step(w, nil)
	}
	if w.Len() != 9 {
		t.Fatalf("expected bot plus 8 projectiles, got %d", w.Len())
	}
}

func TestEntityIDsAreNeverReused(t *testing.T) {
	w := New()
	a := w.Spawn()
	w.Despawn(a)
	b := w.Spawn()
	if a == b {
		t.Fatalf("expected fresh id after despawn, got %d twice", a)
	}
}

func TestSnapshotCarriesNextEntityID(t *testing.T) {
	w := New()
	w.Spawn()
	top := w.Spawn()
	w.Despawn(top)

	restored := FromSnapshot(w.Snapshot())
	if got, want := restored.Spawn(), w.Spawn(); got != want {
		t.Fatalf("expected restored world to allocate %d, got %d", want, got)
	}
}
