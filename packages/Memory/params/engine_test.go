package params

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

var testFp = utils.Fingerprint{SizeOfImage: 0x100, TimeDateStamp: 0x200}

const testBase = uintptr(0x10000)

// countingMem counts raw accesses so tests can assert "no memory was
// touched" paths actually touch nothing.
type countingMem struct {
	*memory.Buffer
	reads  int
	writes int
}

func (c *countingMem) ReadBytes(addr uintptr, size int) ([]byte, error) {
	c.reads++
	return c.Buffer.ReadBytes(addr, size)
}

func (c *countingMem) WriteBytes(addr uintptr, data []byte) error {
	c.writes++
	return c.Buffer.WriteBytes(addr, data)
}

func testSchema(t *testing.T) *TableSchema {
	t.Helper()
	sch, err := NewTableSchema("Test", 0x10,
		FieldSchema{Name: "count", ByteOffset: 0x00, ByteSize: 2, Encoding: EncUnsigned},
		FieldSchema{Name: "delta", ByteOffset: 0x02, ByteSize: 2, Encoding: EncSigned},
		FieldSchema{Name: "rate", ByteOffset: 0x04, ByteSize: 4, Encoding: EncFloat32},
		FieldSchema{Name: "scaled", ByteOffset: 0x08, ByteSize: 1, Encoding: EncFixedPoint, Scale: 0.1},
		FieldSchema{Name: "flag", ByteOffset: 0x09, ByteSize: 1, Encoding: EncBitfield, BitOffset: 3, BitWidth: 1},
		FieldSchema{Name: "level", ByteOffset: 0x09, ByteSize: 1, Encoding: EncBitfield, BitOffset: 4, BitWidth: 2},
	)
	require.NoError(t, err)
	return sch
}

// testEngine maps a 4-row table and resolves it at testBase.
func testEngine(t *testing.T) (*Engine, *countingMem) {
	t.Helper()
	mem := &countingMem{Buffer: memory.NewBuffer()}
	mem.Map("rows", testBase, make([]byte, 4*0x10))

	reg := NewRegistry()
	reg.Add(testFp, testSchema(t))

	e := NewEngine(mem, reg, testFp)
	require.NoError(t, e.SetTableBase("Test", testBase, 4))
	return e, mem
}

func row(i int) RowRef { return RowRef{TableID: "Test", Row: i} }

func TestSetGetRoundTrip(t *testing.T) {
	e, _ := testEngine(t)

	require.NoError(t, e.SetField(row(0), "count", 40000))
	v, err := e.GetField(row(0), "count")
	require.NoError(t, err)
	assert.Equal(t, float64(40000), v)

	require.NoError(t, e.SetField(row(0), "delta", -1234))
	v, err = e.GetField(row(0), "delta")
	require.NoError(t, err)
	assert.Equal(t, float64(-1234), v)

	require.NoError(t, e.SetField(row(0), "rate", 1.5))
	v, err = e.GetField(row(0), "rate")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	require.NoError(t, e.SetField(row(0), "scaled", 3.2))
	v, err = e.GetField(row(0), "scaled")
	require.NoError(t, err)
	assert.InDelta(t, 3.2, v, 1e-9)

	require.NoError(t, e.SetField(row(0), "level", 3))
	v, err = e.GetField(row(0), "level")
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)
}

func TestBitfieldPreservesSiblingBits(t *testing.T) {
	e, mem := testEngine(t)
	rows := mem.Bytes("rows")
	rows[0x09] = 0b10110110

	require.NoError(t, e.SetField(row(0), "flag", 1))
	assert.Equal(t, byte(0b10111110), rows[0x09])

	v, err := e.GetField(row(0), "flag")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	// The sibling bitfield in the same byte reads its own bits, untouched.
	v, err = e.GetField(row(0), "level")
	require.NoError(t, err)
	assert.Equal(t, float64(0b11), v)
}

func TestOverflowRejectedBeforeWrite(t *testing.T) {
	e, mem := testEngine(t)
	rows := mem.Bytes("rows")
	rows[0x09] = 0b10110110
	before := append([]byte(nil), rows...)

	cases := []struct {
		field string
		value float64
	}{
		{"count", -1},
		{"count", 1 << 16},
		{"count", 1.5},
		{"delta", 40000},
		{"delta", -40000},
		{"scaled", 20},
		{"level", 5},
	}
	for _, tc := range cases {
		err := e.SetField(row(0), tc.field, tc.value)
		require.ErrorIs(t, err, ErrEncodeOverflow, "%s=%v", tc.field, tc.value)
	}

	assert.Equal(t, before, rows)
	assert.Empty(t, e.Patches())
}

func TestRevertRestoresExactBytes(t *testing.T) {
	e, mem := testEngine(t)
	rows := mem.Bytes("rows")
	rows[0x00] = 0x34
	rows[0x01] = 0x12
	before := append([]byte(nil), rows...)

	// Several edits; the snapshot must stay the pre-first-edit bytes.
	require.NoError(t, e.SetField(row(0), "count", 1))
	require.NoError(t, e.SetField(row(0), "count", 2))
	require.NoError(t, e.SetField(row(0), "count", 3))
	require.Len(t, e.Patches(), 1)
	assert.Equal(t, []byte{0x34, 0x12}, e.Patches()[0].Original)
	assert.Equal(t, float64(3), e.Patches()[0].Applied)

	require.NoError(t, e.Revert(row(0), "count"))
	assert.Equal(t, before, rows)
	assert.Empty(t, e.Patches())
}

func TestRevertUnpatchedFieldIsNoop(t *testing.T) {
	e, mem := testEngine(t)
	writes := mem.writes
	require.NoError(t, e.Revert(row(0), "count"))
	assert.Equal(t, writes, mem.writes)
}

func TestRevertAllInApplicationOrder(t *testing.T) {
	e, mem := testEngine(t)
	rows := mem.Bytes("rows")
	before := append([]byte(nil), rows...)

	require.NoError(t, e.SetField(row(0), "count", 7))
	require.NoError(t, e.SetField(row(1), "delta", -7))
	require.NoError(t, e.SetField(row(2), "rate", 7.5))

	recs := e.Patches()
	require.Len(t, recs, 3)
	assert.Equal(t, "count", recs[0].Field)
	assert.Equal(t, "delta", recs[1].Field)
	assert.Equal(t, "rate", recs[2].Field)

	assert.Empty(t, e.RevertAll())
	assert.Equal(t, before, rows)
	assert.Empty(t, e.Patches())
}

func TestReapplyIsIdempotent(t *testing.T) {
	e, mem := testEngine(t)
	require.NoError(t, e.SetField(row(0), "count", 500))

	writes := mem.writes
	assert.Empty(t, e.Reapply())
	assert.Empty(t, e.Reapply())
	assert.Equal(t, writes, mem.writes, "reapply on undisturbed memory must not write")
}

func TestReapplyRestoresAfterHostOverwrite(t *testing.T) {
	e, mem := testEngine(t)
	rows := mem.Bytes("rows")
	rows[0x09] = 0b10110110
	require.NoError(t, e.SetField(row(0), "flag", 1))

	// The game reloads the row from its own data.
	rows[0x09] = 0b01000110

	assert.Empty(t, e.Reapply())
	// Patched bit back on, current sibling bits kept as the game wrote them.
	assert.Equal(t, byte(0b01001110), rows[0x09])
}

func TestUnknownFingerprintTouchesNoMemory(t *testing.T) {
	mem := &countingMem{Buffer: memory.NewBuffer()}
	mem.Map("rows", testBase, make([]byte, 0x40))

	reg := NewRegistry()
	reg.Add(testFp, testSchema(t))
	e := NewEngine(mem, reg, utils.Fingerprint{SizeOfImage: 0xBAD})

	err := e.SetTableBase("Test", testBase, 4)
	require.ErrorIs(t, err, ErrSchemaUnsupported)

	_, err = e.GetField(row(0), "count")
	require.ErrorIs(t, err, ErrSchemaUnsupported)
	err = e.SetField(row(0), "count", 1)
	require.ErrorIs(t, err, ErrSchemaUnsupported)
	_, _, err = e.FindRow("Test", "count", 1)
	require.ErrorIs(t, err, ErrSchemaUnsupported)

	assert.Zero(t, mem.reads)
	assert.Zero(t, mem.writes)
}

func TestUnresolvedTable(t *testing.T) {
	e, mem := testEngine(t)
	require.NoError(t, e.SetField(row(0), "count", 9))

	e.DropTableBase("Test")
	_, err := e.GetField(row(0), "count")
	require.ErrorIs(t, err, ErrUnresolved)
	err = e.SetField(row(0), "count", 10)
	require.ErrorIs(t, err, ErrUnresolved)
	_, _, err = e.FindRow("Test", "count", 9)
	require.ErrorIs(t, err, ErrUnresolved)

	// The patch survives the outage and reapplies when the table is back.
	assert.Empty(t, e.Reapply())
	require.Len(t, e.Patches(), 1)

	mem.Bytes("rows")[0x00] = 0 // host cleared it meanwhile
	require.NoError(t, e.SetTableBase("Test", testBase, 4))
	assert.Empty(t, e.Reapply())
	v, err := e.GetField(row(0), "count")
	require.NoError(t, err)
	assert.Equal(t, float64(9), v)
}

func TestRevertWhileUnresolvedDropsRecordWithoutWrite(t *testing.T) {
	e, mem := testEngine(t)
	require.NoError(t, e.SetField(row(0), "count", 9))
	e.DropTableBase("Test")

	writes := mem.writes
	require.NoError(t, e.Revert(row(0), "count"))
	assert.Equal(t, writes, mem.writes)
	assert.Empty(t, e.Patches())
}

func TestFieldNotFound(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.GetField(row(0), "no_such_field")
	require.ErrorIs(t, err, ErrFieldNotFound)
	err = e.SetField(row(0), "no_such_field", 1)
	require.ErrorIs(t, err, ErrFieldNotFound)
}

func TestRowOutOfRangeFaults(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.GetField(row(4), "count")
	require.Error(t, err)
	assert.True(t, memory.IsFault(err))
	_, err = e.GetField(row(-1), "count")
	require.Error(t, err)
	assert.True(t, memory.IsFault(err))
}

func TestFindRow(t *testing.T) {
	e, _ := testEngine(t)
	require.NoError(t, e.SetField(row(2), "count", 117))

	ref, found, err := e.FindRow("Test", "count", 117)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, row(2), ref)

	_, found, err = e.FindRow("Test", "count", 9999)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSchemaRejectsOverlapAndBadFields(t *testing.T) {
	_, err := NewTableSchema("Bad", 0x10,
		FieldSchema{Name: "a", ByteOffset: 0x00, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "b", ByteOffset: 0x02, ByteSize: 4, Encoding: EncSigned},
	)
	assert.Error(t, err)

	_, err = NewTableSchema("Bad", 0x10,
		FieldSchema{Name: "a", ByteOffset: 0x00, ByteSize: 4, Encoding: EncSigned},
		FieldSchema{Name: "a", ByteOffset: 0x04, ByteSize: 4, Encoding: EncSigned},
	)
	assert.Error(t, err)

	_, err = NewTableSchema("Bad", 0x4,
		FieldSchema{Name: "a", ByteOffset: 0x02, ByteSize: 4, Encoding: EncSigned},
	)
	assert.Error(t, err)

	_, err = NewTableSchema("Bad", 0x10,
		FieldSchema{Name: "a", ByteOffset: 0x00, ByteSize: 1, Encoding: EncBitfield, BitOffset: 6, BitWidth: 4},
	)
	assert.Error(t, err)

	_, err = NewTableSchema("Bad", 0x10,
		FieldSchema{Name: "a", ByteOffset: 0x00, ByteSize: 2, Encoding: EncFixedPoint},
	)
	assert.Error(t, err)

	// Bitfields sharing a byte are fine as long as the bits are disjoint.
	_, err = NewTableSchema("Good", 0x10,
		FieldSchema{Name: "a", ByteOffset: 0x00, ByteSize: 1, Encoding: EncBitfield, BitOffset: 0, BitWidth: 4},
		FieldSchema{Name: "b", ByteOffset: 0x00, ByteSize: 1, Encoding: EncBitfield, BitOffset: 4, BitWidth: 4},
	)
	assert.NoError(t, err)
}

func TestBuiltinLayouts(t *testing.T) {
	reg := Builtin(testFp)

	goods, ok := reg.SchemaFor("EquipParamGoods", testFp)
	require.True(t, ok)
	icon, ok := goods.Field("icon_id")
	require.True(t, ok)
	assert.Equal(t, EncUnsigned, icon.Encoding)

	chara, ok := reg.SchemaFor("CharaInitParam", testFp)
	require.True(t, ok)
	_, ok = chara.Field("soul")
	assert.True(t, ok)

	_, ok = reg.SchemaFor("EquipParamGoods", utils.Fingerprint{SizeOfImage: 0xBAD})
	assert.False(t, ok)
}

func TestDarksignIconSwap(t *testing.T) {
	mem := memory.NewBuffer()
	goods := equipParamGoods()
	data := make([]byte, 200*goods.RowStride)
	mem.Map("goods", testBase, data)

	e := NewEngine(mem, Builtin(testFp), testFp)
	require.NoError(t, e.SetTableBase("EquipParamGoods", testBase, 200))

	// Seed the row as the game would have it: id 117, stock icon.
	rowStart := DarksignGoodsID * goods.RowStride
	binary.LittleEndian.PutUint32(data[rowStart:], DarksignGoodsID)
	binary.LittleEndian.PutUint16(data[rowStart+0x20:], DarksignStockIconID)

	ref, found, err := e.FindRow("EquipParamGoods", "id", DarksignGoodsID)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, e.SetField(ref, "icon_id", DarksignToolIconID))
	v, err := e.GetField(ref, "icon_id")
	require.NoError(t, err)
	assert.Equal(t, float64(DarksignToolIconID), v)

	require.Empty(t, e.RevertAll())
	v, err = e.GetField(ref, "icon_id")
	require.NoError(t, err)
	assert.Equal(t, float64(DarksignStockIconID), v)
}

func TestErrorsWrapSentinels(t *testing.T) {
	e, _ := testEngine(t)
	err := e.SetField(row(0), "level", 9)
	assert.True(t, errors.Is(err, ErrEncodeOverflow))
	assert.NotEmpty(t, err.Error())
}
