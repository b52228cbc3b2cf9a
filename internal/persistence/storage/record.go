package storage

// RecordV1 is the serialized form of a guild aggregate. Both backends and the
// backup encoder operate on records, never on live aggregates, so background
// I/O can proceed while the control thread keeps mutating the original.
//
// The yaml keys match the on-disk document layout of the file backend; claims
// are "world,x,z" triples sorted by world, then x, then z.
type RecordV1 struct {
	Name        string            `yaml:"name" json:"name"`
	Owner       string            `yaml:"owner" json:"owner"`
	Level       int               `yaml:"level" json:"level"`
	Exp         int64             `yaml:"exp" json:"exp"`
	BonusClaims int               `yaml:"bonus-claims" json:"bonus_claims"`
	Members     []string          `yaml:"members" json:"members"`
	Invites     []string          `yaml:"invites,omitempty" json:"invites,omitempty"`
	Claims      []string          `yaml:"claimed-chunks,omitempty" json:"claims,omitempty"`
	Homes       map[string]HomeV1 `yaml:"homes,omitempty" json:"homes,omitempty"`
	PvPEnabled  bool              `yaml:"pvp-enabled" json:"pvp_enabled"`
	Structures  []string          `yaml:"structures,omitempty" json:"structures,omitempty"`
}

// AllianceRecordV1 is the serialized form of an alliance between guilds.
// Members and invites hold guild names; the founder is always a member.
type AllianceRecordV1 struct {
	Name        string   `yaml:"name" json:"name"`
	Founder     string   `yaml:"founder" json:"founder"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Members     []string `yaml:"members" json:"members"`
	Invites     []string `yaml:"invites,omitempty" json:"invites,omitempty"`
	ExpBonus    float64  `yaml:"exp-bonus" json:"exp_bonus"`
	ExtraClaims int      `yaml:"extra-claims" json:"extra_claims"`
}

type HomeV1 struct {
	World string  `yaml:"world" json:"world"`
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
	Z     float64 `yaml:"z" json:"z"`
	Yaw   float32 `yaml:"yaw" json:"yaw"`
	Pitch float32 `yaml:"pitch" json:"pitch"`
}
