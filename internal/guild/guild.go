package guild

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Guild is the aggregate root: identity, membership, territory and
// progression. Instances are owned exclusively by the Manager; every
// mutation goes through Manager operations on the game-logic thread, and the
// persistence layer only ever sees serialized snapshots (Record), so
// background I/O never aliases live state.
type Guild struct {
	name        string
	owner       uuid.UUID
	members     map[uuid.UUID]struct{}
	invites     map[uuid.UUID]struct{}
	claims      map[ChunkKey]struct{}
	homes       map[string]Position
	structures  map[string]struct{}
	level       int
	exp         int64
	bonusClaims int
	pvpEnabled  bool

	perks  PerkSet
	levels *Levels
}

func newGuild(levels *Levels, name string, owner uuid.UUID) *Guild {
	g := &Guild{
		name:       name,
		owner:      owner,
		members:    map[uuid.UUID]struct{}{owner: {}},
		invites:    map[uuid.UUID]struct{}{},
		claims:     map[ChunkKey]struct{}{},
		homes:      map[string]Position{},
		structures: map[string]struct{}{},
		level:      1,
		levels:     levels,
	}
	g.perks = levels.PerksFor(1)
	return g
}

func (g *Guild) Name() string       { return g.name }
func (g *Guild) Owner() uuid.UUID   { return g.owner }
func (g *Guild) Level() int         { return g.level }
func (g *Guild) Exp() int64         { return g.exp }
func (g *Guild) BonusClaims() int   { return g.bonusClaims }
func (g *Guild) Perks() PerkSet     { return g.perks }
func (g *Guild) PvPEnabled() bool   { return g.pvpEnabled }
func (g *Guild) MemberCount() int   { return len(g.members) }
func (g *Guild) ClaimCount() int    { return len(g.claims) }

func (g *Guild) IsMember(p uuid.UUID) bool {
	_, ok := g.members[p]
	return ok
}

func (g *Guild) HasInvite(p uuid.UUID) bool {
	_, ok := g.invites[p]
	return ok
}

func (g *Guild) OwnsCell(k ChunkKey) bool {
	_, ok := g.claims[k]
	return ok
}

// Members returns the member set sorted by id, as a copy.
func (g *Guild) Members() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(g.members))
	for m := range g.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Claims returns the claimed cells sorted by world, x, z, as a copy.
func (g *Guild) Claims() []ChunkKey {
	out := make([]ChunkKey, 0, len(g.claims))
	for k := range g.claims {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.World != b.World {
			return a.World < b.World
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	return out
}

// Home looks up a named home. Home names are case-insensitive.
func (g *Guild) Home(name string) (Position, bool) {
	p, ok := g.homes[strings.ToLower(name)]
	return p, ok
}

// Homes returns a copy of the home table.
func (g *Guild) Homes() map[string]Position {
	out := make(map[string]Position, len(g.homes))
	for k, v := range g.homes {
		out[k] = v
	}
	return out
}

// Structures returns the opaque built-structure ids, sorted.
func (g *Guild) Structures() []string {
	out := make([]string, 0, len(g.structures))
	for s := range g.structures {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// claimCap is the level-derived cap plus bonus slots. Checked at claim time
// only: claims over a shrunken cap are grandfathered, never revoked.
func (g *Guild) claimCap() int {
	return g.perks.MaxClaims + g.bonusClaims
}

func (g *Guild) canAddMember() bool {
	return len(g.members) < g.perks.MemberLimit
}

// setLevel moves the guild to a level and recomputes the derived perks.
// Perks are never stored, so they cannot diverge from the level.
func (g *Guild) setLevel(level int) {
	if level < 1 {
		level = 1
	}
	g.level = level
	g.perks = g.levels.PerksFor(level)
}
