package guild

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"guildhall.gg/internal/persistence/storage"
)

// Record captures an immutable serialized snapshot of the guild. Taken on
// the game thread and handed to background I/O, so flushes and backups never
// race live mutation.
func (g *Guild) Record() storage.RecordV1 {
	rec := storage.RecordV1{
		Name:        g.name,
		Owner:       g.owner.String(),
		Level:       g.level,
		Exp:         g.exp,
		BonusClaims: g.bonusClaims,
		PvPEnabled:  g.pvpEnabled,
	}
	for _, m := range g.Members() {
		rec.Members = append(rec.Members, m.String())
	}
	invites := make([]string, 0, len(g.invites))
	for p := range g.invites {
		invites = append(invites, p.String())
	}
	if len(invites) > 0 {
		sort.Strings(invites)
		rec.Invites = invites
	}
	for _, k := range g.Claims() {
		rec.Claims = append(rec.Claims, k.String())
	}
	if len(g.homes) > 0 {
		rec.Homes = make(map[string]storage.HomeV1, len(g.homes))
		for name, p := range g.homes {
			rec.Homes[name] = storage.HomeV1{
				World: p.World, X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch,
			}
		}
	}
	if len(g.structures) > 0 {
		rec.Structures = g.Structures()
	}
	return rec
}

// FromRecord rebuilds a live aggregate from its serialized form. Perks are
// recomputed from the level, never read from storage. The owner is always
// restored into the member set even when the stored member list dropped it.
func FromRecord(levels *Levels, rec storage.RecordV1) (*Guild, error) {
	if rec.Name == "" {
		return nil, fmt.Errorf("record has no guild name")
	}
	owner, err := uuid.Parse(rec.Owner)
	if err != nil {
		return nil, fmt.Errorf("guild %s: bad owner id %q: %w", rec.Name, rec.Owner, err)
	}
	g := newGuild(levels, rec.Name, owner)
	g.setLevel(rec.Level)
	if rec.Exp > 0 {
		g.exp = rec.Exp
	}
	if rec.BonusClaims > 0 {
		g.bonusClaims = rec.BonusClaims
	}
	g.pvpEnabled = rec.PvPEnabled

	for _, s := range rec.Members {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("guild %s: bad member id %q: %w", rec.Name, s, err)
		}
		g.members[id] = struct{}{}
	}
	for _, s := range rec.Invites {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("guild %s: bad invite id %q: %w", rec.Name, s, err)
		}
		if _, member := g.members[id]; !member {
			g.invites[id] = struct{}{}
		}
	}
	for _, s := range rec.Claims {
		k, err := ParseChunkKey(s)
		if err != nil {
			return nil, fmt.Errorf("guild %s: %w", rec.Name, err)
		}
		g.claims[k] = struct{}{}
	}
	for name, h := range rec.Homes {
		g.homes[strings.ToLower(name)] = Position{
			World: h.World, X: h.X, Y: h.Y, Z: h.Z, Yaw: h.Yaw, Pitch: h.Pitch,
		}
	}
	for _, id := range rec.Structures {
		g.structures[id] = struct{}{}
	}
	return g, nil
}
