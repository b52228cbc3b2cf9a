package guild

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"guildhall.gg/internal/persistence/storage"
)

// Deps wires the manager to the persistence and observability layers without
// the manager importing them. Every func is optional except MarkDirty.
type Deps struct {
	Levels *Levels
	Log    *log.Logger

	// MarkDirty queues a guild for the next write-behind flush.
	MarkDirty func(*Guild)
	// DeletePersisted removes the durable record (and bin) for a name.
	DeletePersisted func(name string) error
	// RenamePersisted moves bin data from old to new and removes the old
	// record. The renamed guild itself is re-queued via MarkDirty.
	RenamePersisted func(oldName, newName string) error

	// MarkAllianceDirty and DeleteAlliancePersisted are the alliance
	// counterparts of MarkDirty and DeletePersisted.
	MarkAllianceDirty       func(*Alliance)
	DeleteAlliancePersisted func(name string) error

	Audit AuditSink
	// Notify publishes committed territory changes to observers.
	Notify func(Event)
	// OnCreate and OnDelete trigger backup snapshots around the guild
	// lifecycle; OnDelete runs before any state is torn down.
	OnCreate func(storage.RecordV1)
	OnDelete func(storage.RecordV1)
}

// Manager owns every live Guild and the three global indexes: name→guild,
// player→guild and cell→guild (the territory index). It is the only writer
// to those indexes.
//
// All mutating methods must be called from the single game-logic thread;
// they are serialized by construction and take no locks. Background
// goroutines only ever see immutable records produced here.
type Manager struct {
	deps   Deps
	levels *Levels

	byName   map[string]*Guild // key: lower-cased name
	byPlayer map[uuid.UUID]*Guild
	byCell   map[ChunkKey]*Guild

	alliances       map[string]*Alliance // key: lower-cased alliance name
	allianceByGuild map[string]*Alliance // key: lower-cased guild name

	hooks []Hook
}

func NewManager(deps Deps) *Manager {
	if deps.Log == nil {
		deps.Log = log.Default()
	}
	return &Manager{
		deps:            deps,
		levels:          deps.Levels,
		byName:          map[string]*Guild{},
		byPlayer:        map[uuid.UUID]*Guild{},
		byCell:          map[ChunkKey]*Guild{},
		alliances:       map[string]*Alliance{},
		allianceByGuild: map[string]*Alliance{},
	}
}

// RegisterHook adds a pre-commit veto hook. Hooks are consulted in
// registration order; the first veto wins.
func (m *Manager) RegisterHook(h Hook) {
	m.hooks = append(m.hooks, h)
}

func (m *Manager) allow(it Intent) bool {
	for _, h := range m.hooks {
		if !h(it) {
			return false
		}
	}
	return true
}

// Lookups. O(1), memory only: they never touch disk or network.

func (m *Manager) ByName(name string) *Guild {
	return m.byName[strings.ToLower(name)]
}

func (m *Manager) ByPlayer(p uuid.UUID) *Guild {
	return m.byPlayer[p]
}

func (m *Manager) ByCell(k ChunkKey) *Guild {
	return m.byCell[k]
}

// CanInteract is the per-block-interaction check: unclaimed cells are open,
// claimed cells are open to members only.
func (m *Manager) CanInteract(p uuid.UUID, k ChunkKey) bool {
	g := m.byCell[k]
	return g == nil || g.IsMember(p)
}

// Guilds returns every live guild sorted by name.
func (m *Manager) Guilds() []*Guild {
	out := make([]*Guild, 0, len(m.byName))
	for _, g := range m.byName {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Records snapshots every live guild, for backups and display.
func (m *Manager) Records() []storage.RecordV1 {
	gs := m.Guilds()
	out := make([]storage.RecordV1, 0, len(gs))
	for _, g := range gs {
		out = append(out, g.Record())
	}
	return out
}

// Create registers a new guild owned by owner. The owner must not already
// belong to a guild.
func (m *Manager) Create(name string, owner uuid.UUID) Code {
	if !storage.ValidName(name) {
		return ErrBadName
	}
	if m.ByName(name) != nil {
		return ErrNameTaken
	}
	if m.byPlayer[owner] != nil {
		return ErrInGuild
	}
	if !m.allow(&CreateIntent{Name: name, Owner: owner}) {
		return ErrVetoed
	}
	g := newGuild(m.levels, name, owner)
	m.byName[strings.ToLower(name)] = g
	m.byPlayer[owner] = g
	m.markDirty(g)
	m.audit(EventCreate, g.name, owner.String(), "", "")
	m.notify(Event{Type: EventCreate, Guild: g.name, Player: owner.String()})
	if m.deps.OnCreate != nil {
		m.deps.OnCreate(g.Record())
	}
	return OK
}

// Delete tears a guild down: every member unindexed, every cell freed, then
// the persisted record removed. A nil actor id means console/admin.
func (m *Manager) Delete(name string, actor uuid.UUID) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	if !m.allow(&DeleteIntent{Guild: g}) {
		return ErrVetoed
	}
	if m.deps.OnDelete != nil {
		m.deps.OnDelete(g.Record())
	}
	for p := range g.members {
		if m.byPlayer[p] == g {
			delete(m.byPlayer, p)
		}
	}
	for k := range g.claims {
		if m.byCell[k] == g {
			delete(m.byCell, k)
		}
	}
	delete(m.byName, strings.ToLower(g.name))
	m.dropFromAlliance(g, "guild deleted")
	if m.deps.DeletePersisted != nil {
		if err := m.deps.DeletePersisted(g.name); err != nil {
			m.deps.Log.Printf("guild %s: delete persisted record: %v", g.name, err)
		}
	}
	m.audit(EventDelete, g.name, actor.String(), "", "")
	m.notify(Event{Type: EventDelete, Guild: g.name})
	return OK
}

// Rename moves a guild to a new unique name, atomically with respect to the
// in-memory indexes. The old durable record is removed and the guild is
// re-queued under its new name; bin data follows the guild.
func (m *Manager) Rename(oldName, newName string, actor uuid.UUID) Code {
	g := m.ByName(oldName)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	if !storage.ValidName(newName) {
		return ErrBadName
	}
	if other := m.ByName(newName); other != nil && other != g {
		return ErrNameTaken
	}
	prev := g.name
	if prev == newName {
		return OK
	}
	if !m.allow(&RenameIntent{Guild: g, OldName: prev, NewName: newName}) {
		return ErrVetoed
	}
	delete(m.byName, strings.ToLower(prev))
	g.name = newName
	m.byName[strings.ToLower(newName)] = g
	if a := m.allianceByGuild[strings.ToLower(prev)]; a != nil {
		delete(m.allianceByGuild, strings.ToLower(prev))
		m.allianceByGuild[strings.ToLower(newName)] = a
	}
	// Membership and invite sets in every alliance follow the new name.
	for _, a := range m.alliances {
		if a.HasMember(prev) || a.HasInvite(prev) {
			a.renameMember(prev, newName)
			m.markAllianceDirty(a)
		}
	}
	if m.deps.RenamePersisted != nil {
		if err := m.deps.RenamePersisted(prev, newName); err != nil {
			m.deps.Log.Printf("guild %s: rename persisted record from %s: %v", newName, prev, err)
		}
	}
	m.markDirty(g)
	m.audit(EventRename, newName, actor.String(), "", "was "+prev)
	m.notify(Event{Type: EventRename, Guild: newName, Detail: prev})
	return OK
}

// Claim grants a cell to a guild. Global uniqueness is checked against the
// territory index first, then the guild's cap; both checks and the mutation
// happen on the game thread, so no two claims of the same key can interleave.
func (m *Manager) Claim(name string, actor uuid.UUID, k ChunkKey) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && !g.IsMember(actor) {
		return ErrNotMember
	}
	if m.byCell[k] != nil {
		return ErrAlreadyClaimed
	}
	limit := g.claimCap()
	if a := m.allianceByGuild[strings.ToLower(g.name)]; a != nil {
		limit += a.extraClaims
	}
	if len(g.claims) >= limit {
		return ErrClaimLimit
	}
	if !m.allow(&ClaimIntent{Guild: g, Key: k}) {
		return ErrVetoed
	}
	g.claims[k] = struct{}{}
	m.byCell[k] = g
	m.markDirty(g)
	m.audit(EventClaim, g.name, actor.String(), k.String(), "")
	m.notify(Event{Type: EventClaim, Guild: g.name, Cell: k.String()})
	return OK
}

// Unclaim releases a cell. Only the guild holding it may release it.
func (m *Manager) Unclaim(name string, actor uuid.UUID, k ChunkKey) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && !g.IsMember(actor) {
		return ErrNotMember
	}
	if m.byCell[k] != g {
		return ErrNotClaimed
	}
	delete(g.claims, k)
	delete(m.byCell, k)
	m.markDirty(g)
	m.audit(EventUnclaim, g.name, actor.String(), k.String(), "")
	m.notify(Event{Type: EventUnclaim, Guild: g.name, Cell: k.String()})
	return OK
}

// Invite adds a player to the pending invite set. Idempotent: re-inviting an
// already invited player succeeds without effect.
func (m *Manager) Invite(name string, inviter, invited uuid.UUID) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if !g.IsMember(inviter) {
		return ErrNotMember
	}
	if g.IsMember(invited) {
		return ErrAlreadyMember
	}
	if g.HasInvite(invited) {
		return OK
	}
	g.invites[invited] = struct{}{}
	m.markDirty(g)
	return OK
}

// AcceptInvite moves a player from the invite set into membership.
func (m *Manager) AcceptInvite(name string, player uuid.UUID) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if !g.HasInvite(player) {
		return ErrNoInvite
	}
	if m.byPlayer[player] != nil {
		return ErrInGuild
	}
	if !g.canAddMember() {
		return ErrMemberLimit
	}
	if !m.allow(&MemberJoinIntent{Guild: g, Player: player}) {
		return ErrVetoed
	}
	delete(g.invites, player)
	g.members[player] = struct{}{}
	m.byPlayer[player] = g
	m.markDirty(g)
	m.audit(EventJoin, g.name, player.String(), "", "")
	m.notify(Event{Type: EventJoin, Guild: g.name, Player: player.String()})
	return OK
}

// Kick removes a member. Only the owner may kick, and never themselves:
// the owner leaves a guild only by deletion or ownership transfer.
func (m *Manager) Kick(name string, kicker, kicked uuid.UUID) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if kicker != g.owner {
		return ErrNoPermission
	}
	if kicked == g.owner {
		return ErrNoPermission
	}
	if !g.IsMember(kicked) {
		return ErrNotMember
	}
	return m.removeMember(g, kicked, LeaveKicked)
}

// Leave removes the calling player from their guild. The owner cannot leave.
func (m *Manager) Leave(name string, player uuid.UUID) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if !g.IsMember(player) {
		return ErrNotMember
	}
	if player == g.owner {
		return ErrNoPermission
	}
	return m.removeMember(g, player, LeaveQuit)
}

func (m *Manager) removeMember(g *Guild, player uuid.UUID, reason LeaveReason) Code {
	if !m.allow(&MemberLeaveIntent{Guild: g, Player: player, Reason: reason}) {
		return ErrVetoed
	}
	delete(g.members, player)
	if m.byPlayer[player] == g {
		delete(m.byPlayer, player)
	}
	m.markDirty(g)
	m.audit(EventLeave, g.name, player.String(), "", string(reason))
	m.notify(Event{Type: EventLeave, Guild: g.name, Player: player.String(), Detail: string(reason)})
	return OK
}

// TransferOwnership hands the guild to another current member.
func (m *Manager) TransferOwnership(name string, actor, newOwner uuid.UUID) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	if !g.IsMember(newOwner) {
		return ErrNotMember
	}
	g.owner = newOwner
	m.markDirty(g)
	return OK
}

// AddExperience applies an experience gain. The raw amount passes the
// exp-gain hook (which may adjust it), is scaled by the perk multiplier and
// added. Crossing the next threshold raises the level by exactly one per
// call, however large the gain; a vetoed level-up rolls the gain back.
// Returns whether a level-up happened so the caller can notify players.
func (m *Manager) AddExperience(name string, amount int64) (Code, bool) {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound, false
	}
	if amount <= 0 {
		return OK, false
	}
	it := &ExpGainIntent{Guild: g, Amount: amount}
	if !m.allow(it) {
		return ErrVetoed, false
	}
	mult := g.perks.ExpMultiplier
	if a := m.allianceByGuild[strings.ToLower(g.name)]; a != nil {
		mult *= a.expBonus
	}
	gained := int64(float64(it.Amount) * mult)
	if gained <= 0 {
		return OK, false
	}
	oldExp := g.exp
	g.exp += gained

	next := g.level + 1
	required, ok := m.levels.ExpRequired(next)
	if ok && g.exp >= required {
		if !m.allow(&LevelUpIntent{Guild: g, From: g.level, To: next}) {
			// Vetoed level-up rolls the whole gain back, matching the
			// original exp-gain semantics.
			g.exp = oldExp
			return OK, false
		}
		g.setLevel(next)
		m.markDirty(g)
		m.audit(EventLevelUp, g.name, "", "", "")
		m.notify(Event{Type: EventLevelUp, Guild: g.name, Level: g.level})
		return OK, true
	}
	m.markDirty(g)
	return OK, false
}

// AddBonusClaims grants extra claim slots on top of the level-derived cap.
func (m *Manager) AddBonusClaims(name string, n int) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if n <= 0 {
		return OK
	}
	g.bonusClaims += n
	m.markDirty(g)
	return OK
}

// SetHome creates or moves a named teleport point, bounded by the
// perk-derived home limit. Home names are case-insensitive.
func (m *Manager) SetHome(name string, actor uuid.UUID, homeName string, pos Position) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && !g.IsMember(actor) {
		return ErrNotMember
	}
	key := strings.ToLower(homeName)
	if key == "" {
		return ErrBadName
	}
	if _, exists := g.homes[key]; !exists && len(g.homes) >= g.perks.HomeLimit {
		return ErrHomeLimit
	}
	if !m.allow(&HomeCreateIntent{Guild: g, Name: key, Pos: pos}) {
		return ErrVetoed
	}
	g.homes[key] = pos
	m.markDirty(g)
	return OK
}

// DeleteHome removes a named teleport point.
func (m *Manager) DeleteHome(name string, actor uuid.UUID, homeName string) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && !g.IsMember(actor) {
		return ErrNotMember
	}
	key := strings.ToLower(homeName)
	if _, ok := g.homes[key]; !ok {
		return ErrNotFound
	}
	delete(g.homes, key)
	m.markDirty(g)
	return OK
}

// SetPvP toggles the pvp flag; owner only.
func (m *Manager) SetPvP(name string, actor uuid.UUID, enabled bool) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	g.pvpEnabled = enabled
	m.markDirty(g)
	return OK
}

// AddStructure and RemoveStructure pass opaque built-structure ids through.

func (m *Manager) AddStructure(name, structureID string) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	g.structures[structureID] = struct{}{}
	m.markDirty(g)
	return OK
}

func (m *Manager) RemoveStructure(name, structureID string) Code {
	g := m.ByName(name)
	if g == nil {
		return ErrNotFound
	}
	delete(g.structures, structureID)
	m.markDirty(g)
	return OK
}

// Adopt inserts a restored record as a live guild. An existing live guild of
// the same name is only replaced when overwrite is set: restoring a backup
// never silently clobbers live state.
func (m *Manager) Adopt(rec storage.RecordV1, overwrite bool) Code {
	existing := m.ByName(rec.Name)
	if existing != nil && !overwrite {
		return ErrNameTaken
	}
	g, err := FromRecord(m.levels, rec)
	if err != nil {
		m.deps.Log.Printf("adopt %s: %v", rec.Name, err)
		return ErrBadName
	}
	if existing != nil {
		m.detach(existing)
	}
	m.attach(g)
	m.markDirty(g)
	return OK
}

// Bootstrap registers guilds loaded at startup. Conflicting claims between
// two stored records (possible after manual data edits) resolve first-wins:
// the later guild loses the cell, is logged, and re-queued for persistence.
func (m *Manager) Bootstrap(guilds []*Guild) {
	for _, g := range guilds {
		lower := strings.ToLower(g.name)
		if m.byName[lower] != nil {
			m.deps.Log.Printf("bootstrap: duplicate guild name %q; keeping first", g.name)
			continue
		}
		m.byName[lower] = g
		for p := range g.members {
			if other := m.byPlayer[p]; other != nil {
				m.deps.Log.Printf("bootstrap: player %s in both %s and %s; keeping %s",
					p, other.name, g.name, other.name)
				continue
			}
			m.byPlayer[p] = g
		}
		for k := range g.claims {
			if other := m.byCell[k]; other != nil {
				m.deps.Log.Printf("bootstrap: cell %s claimed by both %s and %s; keeping %s",
					k, other.name, g.name, other.name)
				delete(g.claims, k)
				m.markDirty(g)
				continue
			}
			m.byCell[k] = g
		}
	}
}

func (m *Manager) attach(g *Guild) {
	m.byName[strings.ToLower(g.name)] = g
	for p := range g.members {
		if m.byPlayer[p] == nil {
			m.byPlayer[p] = g
		}
	}
	for k := range g.claims {
		if other := m.byCell[k]; other != nil && other != g {
			delete(g.claims, k)
			continue
		}
		m.byCell[k] = g
	}
}

func (m *Manager) detach(g *Guild) {
	delete(m.byName, strings.ToLower(g.name))
	for p := range g.members {
		if m.byPlayer[p] == g {
			delete(m.byPlayer, p)
		}
	}
	for k := range g.claims {
		if m.byCell[k] == g {
			delete(m.byCell, k)
		}
	}
}

func (m *Manager) markDirty(g *Guild) {
	if m.deps.MarkDirty != nil {
		m.deps.MarkDirty(g)
	}
}

func (m *Manager) notify(ev Event) {
	if m.deps.Notify != nil {
		m.deps.Notify(ev)
	}
}

func (m *Manager) audit(action, guildName, actor, cell, detail string) {
	if m.deps.Audit == nil {
		return
	}
	if actor == uuid.Nil.String() {
		actor = ""
	}
	entry := AuditEntry{
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
		Action: action,
		Guild:  guildName,
		Actor:  actor,
		Cell:   cell,
		Detail: detail,
	}
	if err := m.deps.Audit.WriteAudit(entry); err != nil {
		m.deps.Log.Printf("audit %s %s: %v", action, guildName, err)
	}
}
