package guild

import "github.com/google/uuid"

// Intents are dispatched to registered hooks before a mutation commits.
// Any hook returning false vetoes the mutation: the operation returns
// ErrVetoed and no state, in memory or queued for persistence, changes.
// Hooks run synchronously on the game-logic thread.
type Intent interface{ intent() }

type CreateIntent struct {
	Name  string
	Owner uuid.UUID
}

type DeleteIntent struct{ Guild *Guild }

type ClaimIntent struct {
	Guild *Guild
	Key   ChunkKey
}

// ExpGainIntent carries the raw amount before the perk multiplier. Hooks may
// adjust Amount in place, mirroring the original mutable exp-gain event.
type ExpGainIntent struct {
	Guild  *Guild
	Amount int64
}

type LevelUpIntent struct {
	Guild *Guild
	From  int
	To    int
}

type MemberJoinIntent struct {
	Guild  *Guild
	Player uuid.UUID
}

type MemberLeaveIntent struct {
	Guild  *Guild
	Player uuid.UUID
	Reason LeaveReason
}

type HomeCreateIntent struct {
	Guild *Guild
	Name  string
	Pos   Position
}

type RenameIntent struct {
	Guild   *Guild
	OldName string
	NewName string
}

// Alliance transitions: a guild entering or leaving an alliance. Creation
// dispatches a join intent for the founding guild, so one veto category
// covers every membership transition.
type AllianceJoinIntent struct {
	Alliance *Alliance
	Guild    *Guild
}

type AllianceLeaveIntent struct {
	Alliance *Alliance
	Guild    *Guild
}

func (*CreateIntent) intent()        {}
func (*DeleteIntent) intent()        {}
func (*ClaimIntent) intent()         {}
func (*ExpGainIntent) intent()       {}
func (*LevelUpIntent) intent()       {}
func (*MemberJoinIntent) intent()    {}
func (*MemberLeaveIntent) intent()   {}
func (*HomeCreateIntent) intent()    {}
func (*RenameIntent) intent()        {}
func (*AllianceJoinIntent) intent()  {}
func (*AllianceLeaveIntent) intent() {}

// Hook inspects an intent before commit; returning false vetoes it.
type Hook func(Intent) bool

// LeaveReason distinguishes voluntary departure from a kick in leave
// notifications.
type LeaveReason string

const (
	LeaveQuit   LeaveReason = "QUIT"
	LeaveKicked LeaveReason = "KICKED"
)
