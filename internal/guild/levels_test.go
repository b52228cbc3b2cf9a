package guild

import "testing"

func testDefs() []LevelDef {
	return []LevelDef{
		{Level: 1, ExpRequired: 0, Perks: PerkSet{MemberLimit: 3, MaxClaims: 2, HomeLimit: 1, ExpMultiplier: 1.0}},
		{Level: 2, ExpRequired: 100, Perks: PerkSet{MemberLimit: 5, MaxClaims: 4, HomeLimit: 2, ExpMultiplier: 1.0}},
		{Level: 3, ExpRequired: 300, Perks: PerkSet{MemberLimit: 8, MaxClaims: 8, HomeLimit: 3, ExpMultiplier: 2.0}},
	}
}

func testLevels(t *testing.T) *Levels {
	t.Helper()
	l, err := NewLevels(testDefs())
	if err != nil {
		t.Fatalf("NewLevels: %v", err)
	}
	return l
}

func TestNewLevels_RejectsGaps(t *testing.T) {
	defs := testDefs()
	defs[1].Level = 3
	if _, err := NewLevels(defs); err == nil {
		t.Fatal("expected error for non-contiguous levels")
	}
}

func TestNewLevels_RejectsNonMonotonicExp(t *testing.T) {
	defs := testDefs()
	defs[2].ExpRequired = 50
	if _, err := NewLevels(defs); err == nil {
		t.Fatal("expected error for decreasing exp_required")
	}
}

func TestNewLevels_RejectsBadPerks(t *testing.T) {
	defs := testDefs()
	defs[0].Perks.MemberLimit = 0
	if _, err := NewLevels(defs); err == nil {
		t.Fatal("expected error for member_limit 0")
	}

	defs = testDefs()
	defs[1].Perks.ExpMultiplier = 0
	if _, err := NewLevels(defs); err == nil {
		t.Fatal("expected error for exp_multiplier 0")
	}
}

func TestLevels_PerksForClamps(t *testing.T) {
	l := testLevels(t)
	if got := l.PerksFor(0).MemberLimit; got != 3 {
		t.Fatalf("PerksFor(0): member_limit %d, want 3", got)
	}
	if got := l.PerksFor(99).MemberLimit; got != 8 {
		t.Fatalf("PerksFor(99): member_limit %d, want 8", got)
	}
}

func TestLevels_ExpRequired(t *testing.T) {
	l := testLevels(t)
	if req, ok := l.ExpRequired(2); !ok || req != 100 {
		t.Fatalf("ExpRequired(2) = %d,%v", req, ok)
	}
	if _, ok := l.ExpRequired(4); ok {
		t.Fatal("ExpRequired(4) should report no further level")
	}
}
