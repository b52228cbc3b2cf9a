package guild

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"guildhall.gg/internal/persistence/storage"
)

// Alliance groups guilds under a shared banner. Members are guild names;
// the founding guild is always a member. Like Guild, instances are owned by
// the Manager and mutated only on the game-logic thread.
//
// Member and invite sets key by lower-cased name and keep the canonical
// spelling as the value, so lookups are case-insensitive while records
// preserve the name as created.
type Alliance struct {
	name        string
	founder     string
	description string
	members     map[string]string
	invites     map[string]string

	// Shared perks, applied on top of each member guild's own: expBonus
	// scales experience gains, extraClaims widens the claim cap.
	expBonus    float64
	extraClaims int
}

func newAlliance(name, founderGuild string) *Alliance {
	return &Alliance{
		name:     name,
		founder:  founderGuild,
		members:  map[string]string{strings.ToLower(founderGuild): founderGuild},
		invites:  map[string]string{},
		expBonus: 1.0,
	}
}

func (a *Alliance) Name() string        { return a.name }
func (a *Alliance) Founder() string     { return a.founder }
func (a *Alliance) Description() string { return a.description }
func (a *Alliance) ExpBonus() float64   { return a.expBonus }
func (a *Alliance) ExtraClaims() int    { return a.extraClaims }
func (a *Alliance) MemberCount() int    { return len(a.members) }

func (a *Alliance) HasMember(guildName string) bool {
	_, ok := a.members[strings.ToLower(guildName)]
	return ok
}

func (a *Alliance) HasInvite(guildName string) bool {
	_, ok := a.invites[strings.ToLower(guildName)]
	return ok
}

// Members returns the member guild names sorted, as a copy.
func (a *Alliance) Members() []string {
	out := make([]string, 0, len(a.members))
	for _, n := range a.members {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invites returns the invited guild names sorted, as a copy.
func (a *Alliance) Invites() []string {
	out := make([]string, 0, len(a.invites))
	for _, n := range a.invites {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// renameMember follows a guild rename inside the membership and invite sets.
func (a *Alliance) renameMember(oldName, newName string) {
	oldKey := strings.ToLower(oldName)
	if _, ok := a.members[oldKey]; ok {
		delete(a.members, oldKey)
		a.members[strings.ToLower(newName)] = newName
	}
	if _, ok := a.invites[oldKey]; ok {
		delete(a.invites, oldKey)
		a.invites[strings.ToLower(newName)] = newName
	}
	if strings.EqualFold(a.founder, oldName) {
		a.founder = newName
	}
}

// Record snapshots the alliance for persistence and backups.
func (a *Alliance) Record() storage.AllianceRecordV1 {
	return storage.AllianceRecordV1{
		Name:        a.name,
		Founder:     a.founder,
		Description: a.description,
		Members:     a.Members(),
		Invites:     a.Invites(),
		ExpBonus:    a.expBonus,
		ExtraClaims: a.extraClaims,
	}
}

// AllianceFromRecord rebuilds an alliance from its serialized form.
// The founder is always restored as a member; an invite of a current member
// is dropped. A non-positive exp bonus normalizes to the neutral 1.0.
func AllianceFromRecord(rec storage.AllianceRecordV1) (*Alliance, error) {
	if !storage.ValidName(rec.Name) {
		return nil, fmt.Errorf("alliance record: invalid name %q", rec.Name)
	}
	if !storage.ValidName(rec.Founder) {
		return nil, fmt.Errorf("alliance %s: invalid founder %q", rec.Name, rec.Founder)
	}
	a := newAlliance(rec.Name, rec.Founder)
	a.description = rec.Description
	if rec.ExpBonus > 0 {
		a.expBonus = rec.ExpBonus
	}
	if rec.ExtraClaims > 0 {
		a.extraClaims = rec.ExtraClaims
	}
	for _, g := range rec.Members {
		if !storage.ValidName(g) {
			return nil, fmt.Errorf("alliance %s: invalid member guild %q", rec.Name, g)
		}
		a.members[strings.ToLower(g)] = g
	}
	for _, g := range rec.Invites {
		if !storage.ValidName(g) {
			return nil, fmt.Errorf("alliance %s: invalid invited guild %q", rec.Name, g)
		}
		if a.HasMember(g) {
			continue
		}
		a.invites[strings.ToLower(g)] = g
	}
	return a, nil
}

// Manager alliance operations. Alliance lookups share the manager's indexes
// and run on the game-logic thread like every other mutation.

func (m *Manager) AllianceByName(name string) *Alliance {
	return m.alliances[strings.ToLower(name)]
}

// AllianceOf returns the alliance a guild belongs to, or nil.
func (m *Manager) AllianceOf(guildName string) *Alliance {
	return m.allianceByGuild[strings.ToLower(guildName)]
}

// Alliances returns every live alliance sorted by name.
func (m *Manager) Alliances() []*Alliance {
	out := make([]*Alliance, 0, len(m.alliances))
	for _, a := range m.alliances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// AllianceRecords snapshots every live alliance.
func (m *Manager) AllianceRecords() []storage.AllianceRecordV1 {
	as := m.Alliances()
	out := make([]storage.AllianceRecordV1, 0, len(as))
	for _, a := range as {
		out = append(out, a.Record())
	}
	return out
}

// CreateAlliance founds an alliance with guildName as its first member.
// Only the founding guild's owner (or console) may found one, and the guild
// must not already belong to an alliance. Founding counts as a membership
// transition, so the join hook can veto it.
func (m *Manager) CreateAlliance(name, guildName string, actor uuid.UUID) Code {
	if !storage.ValidName(name) {
		return ErrBadName
	}
	if m.AllianceByName(name) != nil {
		return ErrNameTaken
	}
	g := m.ByName(guildName)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	if m.AllianceOf(g.name) != nil {
		return ErrInAlliance
	}
	a := newAlliance(name, g.name)
	if !m.allow(&AllianceJoinIntent{Alliance: a, Guild: g}) {
		return ErrVetoed
	}
	m.alliances[strings.ToLower(name)] = a
	m.allianceByGuild[strings.ToLower(g.name)] = a
	m.markAllianceDirty(a)
	m.audit(EventAllianceCreate, g.name, actor.String(), "", a.name)
	m.notify(Event{Type: EventAllianceCreate, Guild: g.name, Detail: a.name})
	return OK
}

// DeleteAlliance disbands an alliance. Permitted to console or the owner of
// the founding guild; member guilds themselves are untouched.
func (m *Manager) DeleteAlliance(name string, actor uuid.UUID) Code {
	a := m.AllianceByName(name)
	if a == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil {
		founder := m.ByName(a.founder)
		if founder == nil || actor != founder.owner {
			return ErrNoPermission
		}
	}
	for _, gname := range a.Members() {
		key := strings.ToLower(gname)
		if m.allianceByGuild[key] == a {
			delete(m.allianceByGuild, key)
		}
	}
	delete(m.alliances, strings.ToLower(a.name))
	if m.deps.DeleteAlliancePersisted != nil {
		if err := m.deps.DeleteAlliancePersisted(a.name); err != nil {
			m.deps.Log.Printf("alliance %s: delete persisted record: %v", a.name, err)
		}
	}
	m.audit(EventAllianceDelete, a.founder, actor.String(), "", a.name)
	m.notify(Event{Type: EventAllianceDelete, Detail: a.name})
	return OK
}

// InviteToAlliance extends an invitation to a guild. Only the founding
// guild's owner (or console) may invite. Idempotent for a pending invite.
func (m *Manager) InviteToAlliance(allianceName, guildName string, actor uuid.UUID) Code {
	a := m.AllianceByName(allianceName)
	if a == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil {
		founder := m.ByName(a.founder)
		if founder == nil || actor != founder.owner {
			return ErrNoPermission
		}
	}
	g := m.ByName(guildName)
	if g == nil {
		return ErrNotFound
	}
	if a.HasMember(g.name) {
		return ErrAlreadyMember
	}
	if a.HasInvite(g.name) {
		return OK
	}
	a.invites[strings.ToLower(g.name)] = g.name
	m.markAllianceDirty(a)
	return OK
}

// JoinAlliance accepts a pending invitation. The joining guild's owner (or
// console) acts; the guild must not already belong to an alliance.
func (m *Manager) JoinAlliance(allianceName, guildName string, actor uuid.UUID) Code {
	a := m.AllianceByName(allianceName)
	if a == nil {
		return ErrNotFound
	}
	g := m.ByName(guildName)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	if m.AllianceOf(g.name) != nil {
		return ErrInAlliance
	}
	if !a.HasInvite(g.name) {
		return ErrNoInvite
	}
	if !m.allow(&AllianceJoinIntent{Alliance: a, Guild: g}) {
		return ErrVetoed
	}
	delete(a.invites, strings.ToLower(g.name))
	a.members[strings.ToLower(g.name)] = g.name
	m.allianceByGuild[strings.ToLower(g.name)] = a
	m.markAllianceDirty(a)
	m.audit(EventAllianceJoin, g.name, actor.String(), "", a.name)
	m.notify(Event{Type: EventAllianceJoin, Guild: g.name, Detail: a.name})
	return OK
}

// LeaveAlliance withdraws a guild from its alliance. The alliance survives
// with its remaining members, founder included; an empty alliance persists
// until deleted.
func (m *Manager) LeaveAlliance(guildName string, actor uuid.UUID) Code {
	g := m.ByName(guildName)
	if g == nil {
		return ErrNotFound
	}
	if actor != uuid.Nil && actor != g.owner {
		return ErrNoPermission
	}
	a := m.AllianceOf(g.name)
	if a == nil {
		return ErrNotInAlliance
	}
	if !m.allow(&AllianceLeaveIntent{Alliance: a, Guild: g}) {
		return ErrVetoed
	}
	delete(a.members, strings.ToLower(g.name))
	delete(m.allianceByGuild, strings.ToLower(g.name))
	m.markAllianceDirty(a)
	m.audit(EventAllianceLeave, g.name, actor.String(), "", a.name)
	m.notify(Event{Type: EventAllianceLeave, Guild: g.name, Detail: a.name})
	return OK
}

// SetAlliancePerks sets the shared perk values; console/admin only. The exp
// bonus must stay positive so a misconfigured alliance cannot zero out
// member experience gains.
func (m *Manager) SetAlliancePerks(name string, expBonus float64, extraClaims int) Code {
	a := m.AllianceByName(name)
	if a == nil {
		return ErrNotFound
	}
	if expBonus <= 0 || extraClaims < 0 {
		return ErrBadName
	}
	a.expBonus = expBonus
	a.extraClaims = extraClaims
	m.markAllianceDirty(a)
	return OK
}

// BootstrapAlliances registers alliances loaded at startup. A member whose
// guild no longer exists is dropped and the alliance re-queued; a guild
// claimed by two alliances resolves first-wins, like cell conflicts.
func (m *Manager) BootstrapAlliances(as []*Alliance) {
	for _, a := range as {
		lower := strings.ToLower(a.name)
		if m.alliances[lower] != nil {
			m.deps.Log.Printf("bootstrap: duplicate alliance name %q; keeping first", a.name)
			continue
		}
		m.alliances[lower] = a
		for _, gname := range a.Members() {
			key := strings.ToLower(gname)
			if m.byName[key] == nil {
				m.deps.Log.Printf("bootstrap: alliance %s member %s does not exist; dropping", a.name, gname)
				delete(a.members, key)
				m.markAllianceDirty(a)
				continue
			}
			if other := m.allianceByGuild[key]; other != nil {
				m.deps.Log.Printf("bootstrap: guild %s in both %s and %s; keeping %s",
					gname, other.name, a.name, other.name)
				delete(a.members, key)
				m.markAllianceDirty(a)
				continue
			}
			m.allianceByGuild[key] = a
		}
	}
}

// dropFromAlliance removes a deleted guild from its alliance, if any.
// Deletion is not vetoable, so this bypasses the leave hook.
func (m *Manager) dropFromAlliance(g *Guild, detail string) {
	a := m.allianceByGuild[strings.ToLower(g.name)]
	if a == nil {
		return
	}
	delete(a.members, strings.ToLower(g.name))
	delete(m.allianceByGuild, strings.ToLower(g.name))
	m.markAllianceDirty(a)
	m.audit(EventAllianceLeave, g.name, "", "", detail)
	m.notify(Event{Type: EventAllianceLeave, Guild: g.name, Detail: detail})
}

func (m *Manager) markAllianceDirty(a *Alliance) {
	if m.deps.MarkAllianceDirty != nil {
		m.deps.MarkAllianceDirty(a)
	}
}
