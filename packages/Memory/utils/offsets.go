package utils

import (
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/resolver"
)

// FieldKind is the machine type of a scalar inside a resolved structure.
type FieldKind int

const (
	KindI32 FieldKind = iota
	KindU32
	KindF32
	KindU8
)

// Field is a scalar living at a fixed offset inside a resolved structure.
type Field struct {
	Chain  string
	Offset int64
	Kind   FieldKind
}

// FlagDef is a single engine flag bit inside a resolved structure.
type FlagDef struct {
	Name   string
	Label  string
	Chain  string
	Offset int64
	Bit    uint8
}

// ParamTable binds a param table id to the chain that resolves its row
// block and the row count for that version.
type ParamTable struct {
	TableID string
	Chain   string
	Rows    int
}

// Offsets is everything version-specific in one place, per game build.
type Offsets struct {
	Version string
	// Anchor is scanned for in the image at attach as a belt-and-braces
	// check that the fingerprint match is the build we think it is.
	Anchor string

	Chains      []resolver.Chain
	Fields      map[string]Field
	Flags       []FlagDef
	ParamTables []ParamTable
}

// Chain names shared by every version table.
const (
	ChainPlayerIns  = "PlayerIns"
	ChainGameData   = "GameData"
	ChainMenuMan    = "MenuMan"
	ChainDebugFlags = "DebugFlags"

	ChainEquipParamGoods = "EquipParamGoods"
	ChainCharaInitParam  = "CharaInitParam"
)

func chains110(worldChrMan, gameDataMan, menuMan, dbgFlags, soloParam int64) []resolver.Chain {
	return []resolver.Chain{
		{Name: ChainPlayerIns, Base: worldChrMan, Offsets: []int64{0x80}, Span: 0x2000},
		{Name: ChainGameData, Base: gameDataMan, Offsets: []int64{0x10}, Span: 0x400},
		{Name: ChainMenuMan, Base: menuMan, Offsets: []int64{0x0}, Span: 0x800},
		{Name: ChainDebugFlags, Base: dbgFlags, Offsets: []int64{0x0}, Span: 0x40},
		{Name: ChainEquipParamGoods, Base: soloParam, Offsets: []int64{0x68, 0x68, 0x40}, Span: 0x40},
		{Name: ChainCharaInitParam, Base: soloParam, Offsets: []int64{0x68, 0x78, 0x40}, Span: 0x40},
	}
}

func fields110() map[string]Field {
	return map[string]Field{
		"hp":         {Chain: ChainPlayerIns, Offset: 0x1F90, Kind: KindI32},
		"max_hp":     {Chain: ChainPlayerIns, Offset: 0x1F94, Kind: KindI32},
		"sp":         {Chain: ChainPlayerIns, Offset: 0x1FA0, Kind: KindI32},
		"speed":      {Chain: ChainPlayerIns, Offset: 0x1A58, Kind: KindF32},
		"pos_x":      {Chain: ChainPlayerIns, Offset: 0x80, Kind: KindF32},
		"pos_y":      {Chain: ChainPlayerIns, Offset: 0x84, Kind: KindF32},
		"pos_z":      {Chain: ChainPlayerIns, Offset: 0x88, Kind: KindF32},
		"pos_angle":  {Chain: ChainPlayerIns, Offset: 0x74, Kind: KindF32},
		"souls":      {Chain: ChainGameData, Offset: 0x74, Kind: KindU32},
		"igt_millis": {Chain: ChainGameData, Offset: 0xA4, Kind: KindI32},
		"level":      {Chain: ChainGameData, Offset: 0x70, Kind: KindI32},
		"vigor":      {Chain: ChainGameData, Offset: 0x44, Kind: KindI32},
		"attunement": {Chain: ChainGameData, Offset: 0x48, Kind: KindI32},
		"endurance":  {Chain: ChainGameData, Offset: 0x4C, Kind: KindI32},
		"vitality":   {Chain: ChainGameData, Offset: 0x6C, Kind: KindI32},
		"strength":   {Chain: ChainGameData, Offset: 0x50, Kind: KindI32},
		"dexterity":  {Chain: ChainGameData, Offset: 0x54, Kind: KindI32},
		"intellect":  {Chain: ChainGameData, Offset: 0x58, Kind: KindI32},
		"faith":      {Chain: ChainGameData, Offset: 0x5C, Kind: KindI32},
		"luck":       {Chain: ChainGameData, Offset: 0x60, Kind: KindI32},
		"quitout":    {Chain: ChainMenuMan, Offset: 0x250, Kind: KindU8},
	}
}

func flags110() []FlagDef {
	return []FlagDef{
		{Name: "player_no_dead", Label: "No death", Chain: ChainDebugFlags, Offset: 0x0, Bit: 1},
		{Name: "player_no_damage", Label: "Player no damage", Chain: ChainDebugFlags, Offset: 0x0, Bit: 2},
		{Name: "player_no_hit", Label: "Player no hit", Chain: ChainDebugFlags, Offset: 0x0, Bit: 3},
		{Name: "player_exterminate", Label: "One shot", Chain: ChainDebugFlags, Offset: 0x1, Bit: 0},
		{Name: "all_no_damage", Label: "All no damage", Chain: ChainDebugFlags, Offset: 0x2, Bit: 1},
		{Name: "no_gravity", Label: "No gravity", Chain: ChainPlayerIns, Offset: 0x1A08, Bit: 6},
		{Name: "deathcam", Label: "Deathcam", Chain: ChainPlayerIns, Offset: 0x1A09, Bit: 0},
		{Name: "event_draw", Label: "Event draw", Chain: ChainDebugFlags, Offset: 0x4, Bit: 0},
		{Name: "event_disable", Label: "Event disable", Chain: ChainDebugFlags, Offset: 0x4, Bit: 1},
	}
}

func paramTables110() []ParamTable {
	return []ParamTable{
		{TableID: "EquipParamGoods", Chain: ChainEquipParamGoods, Rows: 4096},
		{TableID: "CharaInitParam", Chain: ChainCharaInitParam, Rows: 256},
	}
}

// offsetTables is the whole supported-version matrix. Values are per retail
// patch; a new patch means a new entry here, nothing else.
var offsetTables = map[Fingerprint]*Offsets{
	// App ver. 1.12, exe 1.12.3.0
	{SizeOfImage: 0x53A8000, TimeDateStamp: 0x5A9F4D21}: {
		Version:     "1.12.3",
		Anchor:      "48 8B 05 ?? ?? ?? 04 48 85 C0 74 0F 48 39 88",
		Chains:      chains110(0x4740178, 0x4743AB0, 0x4746DE8, 0x4768E78, 0x4752E98),
		Fields:      fields110(),
		Flags:       flags110(),
		ParamTables: paramTables110(),
	},
	// App ver. 1.15, exe 1.15.0.0
	{SizeOfImage: 0x55FD000, TimeDateStamp: 0x5C9A16F1}: {
		Version:     "1.15.0",
		Anchor:      "48 8B 05 ?? ?? ?? 04 48 85 C0 74 0F 48 39 88",
		Chains:      chains110(0x477FDB8, 0x47836C8, 0x4786C88, 0x47A8E58, 0x4798118),
		Fields:      fields110(),
		Flags:       flags110(),
		ParamTables: paramTables110(),
	},
	// App ver. 1.15, exe 1.15.2.0 (final retail patch)
	{SizeOfImage: 0x5601000, TimeDateStamp: 0x5D3B2C45}: {
		Version:     "1.15.2",
		Anchor:      "48 8B 05 ?? ?? ?? 04 48 85 C0 74 0F 48 39 88",
		Chains:      chains110(0x4780118, 0x4783A28, 0x4786FE8, 0x47A91B8, 0x4798478),
		Fields:      fields110(),
		Flags:       flags110(),
		ParamTables: paramTables110(),
	},
}

// LookupOffsets returns the offset table for a fingerprint. ok is false
// for unknown builds; the session then stays fail-closed for its lifetime.
func LookupOffsets(fp Fingerprint) (*Offsets, bool) {
	o, ok := offsetTables[fp]
	return o, ok
}

// KnownVersions lists the supported build labels, for the attach log line.
func KnownVersions() []string {
	out := make([]string, 0, len(offsetTables))
	for _, o := range offsetTables {
		out = append(out, o.Version)
	}
	return out
}

// KnownFingerprints lists the supported builds; the param schema registry
// is keyed on the same set.
func KnownFingerprints() []Fingerprint {
	out := make([]Fingerprint, 0, len(offsetTables))
	for fp := range offsetTables {
		out = append(out, fp)
	}
	return out
}
