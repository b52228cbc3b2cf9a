package guild

import "fmt"

// PerkSet is the capability set a guild derives purely from its level.
type PerkSet struct {
	MemberLimit          int
	MaxClaims            int
	HomeLimit            int
	TeleportCooldownSecs int
	StorageRows          int
	ExpMultiplier        float64
	KeepInventory        bool
}

// LevelDef is one row of the level table: the experience threshold to reach
// the level and the perks granted at it.
type LevelDef struct {
	Level       int
	ExpRequired int64
	Perks       PerkSet
}

// Levels is the static level→perk table. It is validated once at config load
// and read-only afterwards, so it is safe to share across goroutines.
type Levels struct {
	defs []LevelDef // defs[0] is level 1
}

// NewLevels validates the table: levels contiguous from 1, thresholds
// monotonically non-decreasing, sane perk values. A violation blocks startup
// rather than surfacing as runtime inconsistency.
func NewLevels(defs []LevelDef) (*Levels, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("level table is empty")
	}
	for i, d := range defs {
		if d.Level != i+1 {
			return nil, fmt.Errorf("level table not contiguous: index %d has level %d", i, d.Level)
		}
		if d.ExpRequired < 0 {
			return nil, fmt.Errorf("level %d: negative exp_required", d.Level)
		}
		if i > 0 && d.ExpRequired < defs[i-1].ExpRequired {
			return nil, fmt.Errorf("level %d: exp_required %d below level %d's %d",
				d.Level, d.ExpRequired, defs[i-1].Level, defs[i-1].ExpRequired)
		}
		if d.Perks.MemberLimit < 1 {
			return nil, fmt.Errorf("level %d: member_limit must be >= 1", d.Level)
		}
		if d.Perks.MaxClaims < 0 || d.Perks.HomeLimit < 0 || d.Perks.StorageRows < 0 {
			return nil, fmt.Errorf("level %d: negative perk limit", d.Level)
		}
		if d.Perks.ExpMultiplier <= 0 {
			return nil, fmt.Errorf("level %d: exp_multiplier must be > 0", d.Level)
		}
	}
	out := make([]LevelDef, len(defs))
	copy(out, defs)
	return &Levels{defs: out}, nil
}

func (l *Levels) MaxLevel() int { return len(l.defs) }

// PerksFor returns the perk set for a level, clamped into the table range.
func (l *Levels) PerksFor(level int) PerkSet {
	if level < 1 {
		level = 1
	}
	if level > len(l.defs) {
		level = len(l.defs)
	}
	return l.defs[level-1].Perks
}

// ExpRequired returns the total experience needed to reach level, and false
// when level is beyond the table (no further level-ups possible).
func (l *Levels) ExpRequired(level int) (int64, bool) {
	if level < 1 || level > len(l.defs) {
		return 0, false
	}
	return l.defs[level-1].ExpRequired, true
}
