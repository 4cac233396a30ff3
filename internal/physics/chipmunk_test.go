package physics

import (
	"errors"
	"math"
	"testing"
)

var (
	testPlayer = Category{Bits: 1, Mask: AllCategories}
	testBullet = Category{Bits: 2, Mask: 4}
	testEnemy  = Category{Bits: 4, Mask: 3}
)

func newTestWorld(t *testing.T) *ChipmunkWorld {
	t.Helper()
	w, err := NewChipmunkWorld("test", DefaultConfig())
	if err != nil {
		t.Fatalf("NewChipmunkWorld returned error: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func mustCreate(t *testing.T, w World, spec BodySpec) BodyID {
	t.Helper()
	id, err := w.CreateBody(spec)
	if err != nil {
		t.Fatalf("CreateBody(%+v) returned error: %v", spec, err)
	}
	return id
}

func TestNewChipmunkWorldRejectsInvalidConfig(t *testing.T) {
	cases := []Config{
		{FixedStep: 0, MaxSubSteps: 1},
		{FixedStep: -1, MaxSubSteps: 1},
		{FixedStep: 1.0 / 60, MaxSubSteps: 0},
	}
	for _, cfg := range cases {
		if _, err := NewChipmunkWorld("bad", cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
}

func TestCreateBodyValidatesSpec(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.CreateBody(BodySpec{Radius: 0, Mass: 1}); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected ErrInvalidBody for zero radius, got %v", err)
	}
	if _, err := w.CreateBody(BodySpec{Radius: 1, Mass: 0}); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected ErrInvalidBody for zero mass, got %v", err)
	}
}

func TestStepIntegratesVelocity(t *testing.T) {
	w := newTestWorld(t)
	id := mustCreate(t, w, BodySpec{Position: Vec{X: 10, Y: -5}, Radius: 5, Mass: 1, Category: testBullet})
	if !w.SetVelocity(id, Vec{X: 60, Y: 0}) {
		t.Fatalf("SetVelocity reported unknown body")
	}

	w.Step(0.5)

	pos, ok := w.Position(id)
	if !ok {
		t.Fatalf("Position reported unknown body")
	}
	if math.Abs(pos.X-40) > 1e-6 || math.Abs(pos.Y+5) > 1e-6 {
		t.Fatalf("unexpected position after step: %+v", pos)
	}
	vel, _ := w.Velocity(id)
	if math.Abs(vel.X-60) > 1e-6 || vel.Y != 0 {
		t.Fatalf("velocity should be preserved without gravity or response, got %+v", vel)
	}
}

func TestRemoveBodyIsIdempotent(t *testing.T) {
	w := newTestWorld(t)
	id := mustCreate(t, w, BodySpec{Radius: 5, Mass: 1, Category: testPlayer})
	w.RemoveBody(id)
	w.RemoveBody(id)
	w.RemoveBody(BodyID(9999))

	if w.BodyCount() != 0 {
		t.Fatalf("expected no bodies, got %d", w.BodyCount())
	}
	if _, ok := w.Position(id); ok {
		t.Fatalf("expected removed body lookup to fail")
	}
	if w.SetVelocity(id, Vec{X: 1}) {
		t.Fatalf("expected SetVelocity on removed body to report false")
	}
}

func TestContactPairsRespectCategories(t *testing.T) {
	w := newTestWorld(t)
	enemy := mustCreate(t, w, BodySpec{Position: Vec{}, Radius: 10, Mass: 1, Category: testEnemy})
	bullet := mustCreate(t, w, BodySpec{Position: Vec{X: 3}, Radius: 5, Mass: 1, Category: testBullet})
	// Bullets ignore players and other bullets, enemies ignore enemies.
	mustCreate(t, w, BodySpec{Position: Vec{X: 200}, Radius: 10, Mass: 1, Category: testPlayer})
	mustCreate(t, w, BodySpec{Position: Vec{X: 203}, Radius: 5, Mass: 1, Category: testBullet})
	mustCreate(t, w, BodySpec{Position: Vec{X: -200}, Radius: 10, Mass: 1, Category: testEnemy})
	mustCreate(t, w, BodySpec{Position: Vec{X: -195}, Radius: 10, Mass: 1, Category: testEnemy})

	w.Step(1.0 / 30)

	contacts := w.ContactPairs()
	if len(contacts) != 1 {
		t.Fatalf("expected exactly one contact, got %+v", contacts)
	}
	got := contacts[0]
	if !(got.A == enemy && got.B == bullet) && !(got.A == bullet && got.B == enemy) {
		t.Fatalf("unexpected contact pair %+v (enemy=%d bullet=%d)", got, enemy, bullet)
	}
}

func TestContactsResetEachStep(t *testing.T) {
	w := newTestWorld(t)
	mustCreate(t, w, BodySpec{Radius: 10, Mass: 1, Category: testPlayer})
	enemy := mustCreate(t, w, BodySpec{Position: Vec{X: 5}, Radius: 10, Mass: 1, Category: testEnemy})

	w.Step(1.0 / 30)
	if len(w.ContactPairs()) != 1 {
		t.Fatalf("expected player/enemy contact, got %+v", w.ContactPairs())
	}

	w.RemoveBody(enemy)
	w.Step(1.0 / 30)
	if contacts := w.ContactPairs(); len(contacts) != 0 {
		t.Fatalf("expected contacts to clear after separation, got %+v", contacts)
	}
}

func TestCloseReleasesBodies(t *testing.T) {
	w, err := NewChipmunkWorld("closing", DefaultConfig())
	if err != nil {
		t.Fatalf("NewChipmunkWorld returned error: %v", err)
	}
	mustCreate(t, w, BodySpec{Radius: 1, Mass: 1, Category: testPlayer})
	mustCreate(t, w, BodySpec{Radius: 1, Mass: 1, Category: testEnemy})

	w.Close()
	w.Close()

	if w.BodyCount() != 0 {
		t.Fatalf("expected bodies to be released, got %d", w.BodyCount())
	}
	if _, err := w.CreateBody(BodySpec{Radius: 1, Mass: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestVecNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Vec
		want Vec
		ok   bool
	}{
		{name: "unit x", in: Vec{X: 3}, want: Vec{X: 1}, ok: true},
		{name: "diagonal", in: Vec{X: 3, Y: 4}, want: Vec{X: 0.6, Y: 0.8}, ok: true},
		{name: "zero", in: Vec{}, want: Vec{}, ok: false},
		{name: "nan", in: Vec{X: math.NaN()}, want: Vec{}, ok: false},
		{name: "inf", in: Vec{X: math.Inf(1)}, want: Vec{}, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.in.Normalize()
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if math.Abs(got.X-tc.want.X) > 1e-9 || math.Abs(got.Y-tc.want.Y) > 1e-9 {
				t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCategoryCollides(t *testing.T) {
	if !testBullet.Collides(testEnemy) || !testEnemy.Collides(testBullet) {
		t.Fatalf("bullets and enemies must collide")
	}
	if testBullet.Collides(testPlayer) {
		t.Fatalf("bullets must not collide with players")
	}
	if testEnemy.Collides(testEnemy) {
		t.Fatalf("enemies must not collide with each other")
	}
	if !testPlayer.Collides(testEnemy) {
		t.Fatalf("players and enemies must collide")
	}
}
