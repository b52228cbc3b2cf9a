package guild

// AuditEntry is one line of the territory audit stream.
type AuditEntry struct {
	TS     string `json:"ts"`
	Action string `json:"action"`
	Guild  string `json:"guild"`
	Actor  string `json:"actor,omitempty"`
	Cell   string `json:"cell,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// AuditSink receives audit entries.
type AuditSink interface {
	WriteAudit(AuditEntry) error
}

// Event is a committed territory change, fanned out to observers.
type Event struct {
	Type   string `json:"type"`
	Guild  string `json:"guild"`
	Player string `json:"player,omitempty"`
	Cell   string `json:"cell,omitempty"`
	Level  int    `json:"level,omitempty"`
	Detail string `json:"detail,omitempty"`
}

const (
	EventCreate  = "CREATE"
	EventDelete  = "DELETE"
	EventClaim   = "CLAIM"
	EventUnclaim = "UNCLAIM"
	EventJoin    = "JOIN"
	EventLeave   = "LEAVE"
	EventLevelUp = "LEVEL_UP"
	EventRename  = "RENAME"

	EventAllianceCreate = "ALLIANCE_CREATE"
	EventAllianceDelete = "ALLIANCE_DELETE"
	EventAllianceJoin   = "ALLIANCE_JOIN"
	EventAllianceLeave  = "ALLIANCE_LEAVE"
)
