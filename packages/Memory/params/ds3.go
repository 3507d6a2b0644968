package params

import (
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

// Layouts for the param tables the tool edits. Row layouts have been
// stable since 1.12, so the same schema is registered for every supported
// fingerprint; a future patch that reshuffles a row gets its own schema.

func equipParamGoods() *TableSchema {
	return mustSchema(NewTableSchema("EquipParamGoods", 0x60,
		FieldSchema{Name: "id", ByteOffset: 0x00, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "ref_id", ByteOffset: 0x04, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "sfx_variation_id", ByteOffset: 0x08, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "weight", ByteOffset: 0x0C, ByteSize: 4, Encoding: EncFloat32},
		FieldSchema{Name: "basic_price", ByteOffset: 0x10, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "sell_value", ByteOffset: 0x14, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "behavior_id", ByteOffset: 0x18, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "replace_item_id", ByteOffset: 0x1C, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "icon_id", ByteOffset: 0x20, ByteSize: 2, Encoding: EncUnsigned},
		FieldSchema{Name: "max_num", ByteOffset: 0x22, ByteSize: 2, Encoding: EncSigned},
		FieldSchema{Name: "repair_cost_rate", ByteOffset: 0x24, ByteSize: 1, Encoding: EncFixedPoint, Scale: 0.1},
		FieldSchema{Name: "goods_type", ByteOffset: 0x25, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "qwc_id", ByteOffset: 0x28, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "is_consume", ByteOffset: 0x2C, ByteSize: 1, Encoding: EncBitfield, BitOffset: 0, BitWidth: 1},
		FieldSchema{Name: "is_auto_equip", ByteOffset: 0x2C, ByteSize: 1, Encoding: EncBitfield, BitOffset: 1, BitWidth: 1},
		FieldSchema{Name: "is_establishment", ByteOffset: 0x2C, ByteSize: 1, Encoding: EncBitfield, BitOffset: 2, BitWidth: 1},
		FieldSchema{Name: "is_only_one", ByteOffset: 0x2C, ByteSize: 1, Encoding: EncBitfield, BitOffset: 3, BitWidth: 1},
		FieldSchema{Name: "is_drop", ByteOffset: 0x2C, ByteSize: 1, Encoding: EncBitfield, BitOffset: 4, BitWidth: 1},
		FieldSchema{Name: "is_deposit", ByteOffset: 0x2C, ByteSize: 1, Encoding: EncBitfield, BitOffset: 5, BitWidth: 1},
		FieldSchema{Name: "goods_category", ByteOffset: 0x2D, ByteSize: 1, Encoding: EncBitfield, BitOffset: 0, BitWidth: 4},
		FieldSchema{Name: "use_anim", ByteOffset: 0x2D, ByteSize: 1, Encoding: EncBitfield, BitOffset: 4, BitWidth: 4},
	))
}

func charaInitParam() *TableSchema {
	return mustSchema(NewTableSchema("CharaInitParam", 0xF0,
		FieldSchema{Name: "base_rec_sp", ByteOffset: 0x00, ByteSize: 4, Encoding: EncFloat32},
		FieldSchema{Name: "soul", ByteOffset: 0x04, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "equip_wep_right", ByteOffset: 0x08, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "equip_wep_left", ByteOffset: 0x0C, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "equip_armor_head", ByteOffset: 0x10, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "equip_armor_body", ByteOffset: 0x14, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "base_hp", ByteOffset: 0x38, ByteSize: 2, Encoding: EncUnsigned},
		FieldSchema{Name: "base_sp", ByteOffset: 0x3A, ByteSize: 2, Encoding: EncUnsigned},
		FieldSchema{Name: "stamina_recover_rate", ByteOffset: 0x3C, ByteSize: 2, Encoding: EncFixedPoint, Scale: 0.01},
		FieldSchema{Name: "soul_level", ByteOffset: 0x54, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_vit", ByteOffset: 0x55, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_wil", ByteOffset: 0x56, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_end", ByteOffset: 0x57, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_str", ByteOffset: 0x58, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_dex", ByteOffset: 0x59, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_mag", ByteOffset: 0x5A, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_fai", ByteOffset: 0x5B, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "base_luc", ByteOffset: 0x5C, ByteSize: 1, Encoding: EncUnsigned},
		FieldSchema{Name: "gender", ByteOffset: 0x5D, ByteSize: 1, Encoding: EncBitfield, BitOffset: 0, BitWidth: 1},
		FieldSchema{Name: "body_scale", ByteOffset: 0x5D, ByteSize: 1, Encoding: EncBitfield, BitOffset: 1, BitWidth: 3},
		FieldSchema{Name: "voice_type", ByteOffset: 0x5D, ByteSize: 1, Encoding: EncBitfield, BitOffset: 4, BitWidth: 4},
	))
}

// Builtin returns the registry with every compiled-in layout, keyed by the
// supported fingerprints from the offsets tables.
func Builtin(fps ...utils.Fingerprint) *Registry {
	r := NewRegistry()
	for _, fp := range fps {
		r.Add(fp, equipParamGoods())
		r.Add(fp, charaInitParam())
	}
	return r
}

// Darksign is the row id and icon swap applied at attach, as a visible
// marker that the tool is active; reverted with everything else at detach.
const (
	DarksignGoodsID     = 117
	DarksignToolIconID  = 116
	DarksignStockIconID = 5
)
