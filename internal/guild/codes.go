package guild

// Code is the typed outcome of a guild operation, rendered by the command
// front-end as user feedback. The empty code means success. Validation
// failures are values, never errors: the caller decides whether to retry
// with different input.
type Code string

const (
	OK Code = ""

	ErrBadName        Code = "E_BAD_NAME"
	ErrNameTaken      Code = "E_NAME_TAKEN"
	ErrNotFound       Code = "E_NOT_FOUND"
	ErrAlreadyClaimed Code = "E_ALREADY_CLAIMED"
	ErrClaimLimit     Code = "E_CLAIM_LIMIT"
	ErrNotClaimed     Code = "E_NOT_CLAIMED"
	ErrNoPermission   Code = "E_NO_PERMISSION"
	ErrNotMember      Code = "E_NOT_MEMBER"
	ErrAlreadyMember  Code = "E_ALREADY_MEMBER"
	ErrInGuild        Code = "E_ALREADY_IN_GUILD"
	ErrMemberLimit    Code = "E_MEMBER_LIMIT"
	ErrNoInvite       Code = "E_NO_INVITE"
	ErrHomeLimit      Code = "E_HOME_LIMIT"
	ErrInAlliance     Code = "E_ALREADY_IN_ALLIANCE"
	ErrNotInAlliance  Code = "E_NOT_IN_ALLIANCE"
	ErrVetoed         Code = "E_VETOED"
)

// Failed reports whether the operation was denied.
func (c Code) Failed() bool { return c != OK }

var knownCodes = map[Code]struct{}{
	ErrBadName:        {},
	ErrNameTaken:      {},
	ErrNotFound:       {},
	ErrAlreadyClaimed: {},
	ErrClaimLimit:     {},
	ErrNotClaimed:     {},
	ErrNoPermission:   {},
	ErrNotMember:      {},
	ErrAlreadyMember:  {},
	ErrInGuild:        {},
	ErrMemberLimit:    {},
	ErrNoInvite:       {},
	ErrHomeLimit:      {},
	ErrInAlliance:     {},
	ErrNotInAlliance:  {},
	ErrVetoed:         {},
}

func IsKnownCode(c Code) bool {
	if c == OK {
		return true
	}
	_, ok := knownCodes[c]
	return ok
}
