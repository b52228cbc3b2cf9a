package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"guildhall.gg/internal/guild"
)

type levelRow struct {
	Level       int     `json:"level"`
	ExpRequired int64   `json:"exp_required"`
	Perks       perkRow `json:"perks"`
}

type perkRow struct {
	MemberLimit          int     `json:"member_limit"`
	MaxClaims            int     `json:"max_claims"`
	HomeLimit            int     `json:"home_limit"`
	TeleportCooldownSecs int     `json:"teleport_cooldown_secs"`
	StorageRows          int     `json:"storage_rows"`
	ExpMultiplier        float64 `json:"exp_multiplier"`
	KeepInventory        bool    `json:"keep_inventory"`
}

// LoadLevels reads the level table, validates it against its schema, then
// hands it to the domain validator. Schema violations and table violations
// both block startup.
func LoadLevels(path, schemaPath string) (*guild.Levels, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	schema, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", schemaPath, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("levels.json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("levels.json: %w", err)
	}

	var rows []levelRow
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("levels.json: %w", err)
	}
	defs := make([]guild.LevelDef, len(rows))
	for i, r := range rows {
		defs[i] = guild.LevelDef{
			Level:       r.Level,
			ExpRequired: r.ExpRequired,
			Perks: guild.PerkSet{
				MemberLimit:          r.Perks.MemberLimit,
				MaxClaims:            r.Perks.MaxClaims,
				HomeLimit:            r.Perks.HomeLimit,
				TeleportCooldownSecs: r.Perks.TeleportCooldownSecs,
				StorageRows:          r.Perks.StorageRows,
				ExpMultiplier:        r.Perks.ExpMultiplier,
				KeepInventory:        r.Perks.KeepInventory,
			},
		}
	}
	levels, err := guild.NewLevels(defs)
	if err != nil {
		return nil, fmt.Errorf("levels.json: %w", err)
	}
	return levels, nil
}
