package params

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

// RowRef names a row by table and index; the concrete address is computed
// from the table base registered for the current tick. Rows live in game
// memory and are never relocated by us.
type RowRef struct {
	TableID string
	Row     int
}

func (r RowRef) String() string {
	return fmt.Sprintf("%s[%d]", r.TableID, r.Row)
}

// PatchRecord remembers one edited field. Original is snapshotted on the
// first write and kept across later writes, so a revert restores the exact
// pre-edit bytes no matter how many times the value changed since.
type PatchRecord struct {
	Row      RowRef
	Field    string
	Original []byte
	Applied  float64
}

type patchKey struct {
	row   RowRef
	field string
}

type tableRef struct {
	schema *TableSchema
	base   uintptr
	rows   int
}

// Engine applies and reverts field edits on live param rows. The game may
// overwrite whole rows behind our back (row reload), so active patches are
// reapplied once per tick instead of trusting a single write to stick.
type Engine struct {
	mem memory.Accessor
	reg *Registry
	fp  utils.Fingerprint

	tables  map[string]tableRef
	patches map[patchKey]*PatchRecord
	order   []patchKey
}

func NewEngine(mem memory.Accessor, reg *Registry, fp utils.Fingerprint) *Engine {
	return &Engine{
		mem:     mem,
		reg:     reg,
		fp:      fp,
		tables:  map[string]tableRef{},
		patches: map[patchKey]*PatchRecord{},
	}
}

// SetTableBase registers where the table's row block currently lives. The
// resolver re-resolves the base every tick; registering again just moves
// the region. Returns ErrSchemaUnsupported when this build has no layout.
func (e *Engine) SetTableBase(tableID string, base uintptr, rows int) error {
	sch, ok := e.reg.SchemaFor(tableID, e.fp)
	if !ok {
		return fmt.Errorf("%s: %w", tableID, ErrSchemaUnsupported)
	}
	e.tables[tableID] = tableRef{schema: sch, base: base, rows: rows}
	e.mem.RegisterRegion(memory.Region{
		Name: "param#" + tableID,
		Base: base,
		Size: uintptr(rows * sch.RowStride),
	})
	return nil
}

// DropTableBase marks the table unavailable (base pointer gone). Patches
// are kept; they reapply when the table comes back.
func (e *Engine) DropTableBase(tableID string) {
	delete(e.tables, tableID)
	e.mem.DropRegion("param#" + tableID)
}

func (e *Engine) lookup(row RowRef, field string) (tableRef, *FieldSchema, uintptr, error) {
	if _, ok := e.reg.SchemaFor(row.TableID, e.fp); !ok {
		return tableRef{}, nil, 0, fmt.Errorf("%s: %w", row.TableID, ErrSchemaUnsupported)
	}
	t, ok := e.tables[row.TableID]
	if !ok {
		return tableRef{}, nil, 0, fmt.Errorf("%s: %w", row.TableID, ErrUnresolved)
	}
	f, ok := t.schema.Field(field)
	if !ok {
		return tableRef{}, nil, 0, fmt.Errorf("%s.%s: %w", row.TableID, field, ErrFieldNotFound)
	}
	if row.Row < 0 || row.Row >= t.rows {
		return tableRef{}, nil, 0, &memory.MemoryFault{
			Reason: fmt.Sprintf("row %d outside table %s (%d rows)", row.Row, row.TableID, t.rows),
		}
	}
	addr := t.base + uintptr(row.Row*t.schema.RowStride) + uintptr(f.ByteOffset)
	return t, f, addr, nil
}

// GetField decodes a field from the live row.
func (e *Engine) GetField(row RowRef, field string) (float64, error) {
	_, f, addr, err := e.lookup(row, field)
	if err != nil {
		return 0, err
	}
	raw, err := e.mem.ReadBytes(addr, f.ByteSize)
	if err != nil {
		return 0, err
	}
	return decodeField(f, raw), nil
}

// SetField validates, encodes and writes a field value. The pre-write field
// bytes are snapshotted into a PatchRecord on the first edit; later edits
// only update the applied value. Validation happens before any write, so a
// rejected value leaves the row untouched.
func (e *Engine) SetField(row RowRef, field string, value float64) error {
	_, f, addr, err := e.lookup(row, field)
	if err != nil {
		return err
	}
	old, err := e.mem.ReadBytes(addr, f.ByteSize)
	if err != nil {
		return err
	}
	enc, err := encodeField(f, old, value)
	if err != nil {
		return err
	}
	if err := e.mem.WriteBytes(addr, enc); err != nil {
		return err
	}
	k := patchKey{row: row, field: field}
	if rec, ok := e.patches[k]; ok {
		rec.Applied = value
	} else {
		orig := make([]byte, len(old))
		copy(orig, old)
		e.patches[k] = &PatchRecord{Row: row, Field: field, Original: orig, Applied: value}
		e.order = append(e.order, k)
	}
	return nil
}

// Revert writes the original bytes back and discards the record. Reverting
// a field that was never patched is a no-op, not an error. A record whose
// table is currently unresolved is dropped without a write: the game
// rebuilt the row from its own data, there is nothing to restore into.
func (e *Engine) Revert(row RowRef, field string) error {
	k := patchKey{row: row, field: field}
	rec, ok := e.patches[k]
	if !ok {
		return nil
	}
	defer e.discard(k)
	_, _, addr, err := e.lookup(row, field)
	if err != nil {
		return nil
	}
	return e.mem.WriteBytes(addr, rec.Original)
}

// RevertAll reverts every live patch, in application order. Used at detach
// and on global disable.
func (e *Engine) RevertAll() []error {
	var errs []error
	for _, k := range append([]patchKey(nil), e.order...) {
		if err := e.Revert(k.row, k.field); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (e *Engine) discard(k patchKey) {
	delete(e.patches, k)
	for i := range e.order {
		if e.order[i] == k {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Reapply re-encodes every active patch against the current row bytes,
// writing only when the memory drifted. Called once per tick; this is what
// keeps an edit alive across the game reloading a row. Patches whose table
// is unresolved this tick are skipped, not failed.
func (e *Engine) Reapply() []error {
	var errs []error
	for _, k := range e.order {
		rec := e.patches[k]
		_, f, addr, err := e.lookup(rec.Row, rec.Field)
		if err != nil {
			continue
		}
		old, err := e.mem.ReadBytes(addr, f.ByteSize)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		enc, err := encodeField(f, old, rec.Applied)
		if err != nil {
			continue
		}
		if !bytesEqual(old, enc) {
			if err := e.mem.WriteBytes(addr, enc); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Patches returns the live records in application order.
func (e *Engine) Patches() []*PatchRecord {
	out := make([]*PatchRecord, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, e.patches[k])
	}
	return out
}

// FindRow scans a resolved table for the first row whose field equals
// value. Param rows are keyed by an id field, and callers usually know the
// id, not the index.
func (e *Engine) FindRow(tableID, field string, value float64) (RowRef, bool, error) {
	t, ok := e.tables[tableID]
	if !ok {
		if _, known := e.reg.SchemaFor(tableID, e.fp); !known {
			return RowRef{}, false, fmt.Errorf("%s: %w", tableID, ErrSchemaUnsupported)
		}
		return RowRef{}, false, fmt.Errorf("%s: %w", tableID, ErrUnresolved)
	}
	for i := 0; i < t.rows; i++ {
		ref := RowRef{TableID: tableID, Row: i}
		v, err := e.GetField(ref, field)
		if err != nil {
			return RowRef{}, false, err
		}
		if v == value {
			return ref, true, nil
		}
	}
	return RowRef{}, false, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- encoding ---

func loadRaw(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func storeRaw(size int, v uint64) []byte {
	b := make([]byte, size)
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return b
}

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func decodeField(f *FieldSchema, raw []byte) float64 {
	u := loadRaw(raw)
	switch f.Encoding {
	case EncUnsigned:
		return float64(u)
	case EncSigned:
		return float64(signExtend(u, f.ByteSize*8))
	case EncFloat32:
		return float64(math.Float32frombits(uint32(u)))
	case EncFixedPoint:
		return float64(signExtend(u, f.ByteSize*8)) * f.Scale
	case EncBitfield:
		return float64(u >> f.BitOffset & (uint64(1)<<f.BitWidth - 1))
	}
	return 0
}

func checkedInt(f *FieldSchema, value float64) (int64, error) {
	n := int64(value)
	if float64(n) != value {
		return 0, fmt.Errorf("%s: %v is not integral: %w", f.Name, value, ErrEncodeOverflow)
	}
	return n, nil
}

// encodeField turns a value into the bytes to write, merging with old for
// bitfields so sibling bits in the containing byte(s) survive unchanged.
// Every range check happens here, before the caller touches memory.
func encodeField(f *FieldSchema, old []byte, value float64) ([]byte, error) {
	switch f.Encoding {
	case EncUnsigned:
		n, err := checkedInt(f, value)
		if err != nil {
			return nil, err
		}
		max := int64(1)<<(f.ByteSize*8-1)*2 - 1 // avoids overflow for 8-byte fields
		if f.ByteSize == 8 {
			max = math.MaxInt64
		}
		if n < 0 || n > max {
			return nil, fmt.Errorf("%s: %d out of range: %w", f.Name, n, ErrEncodeOverflow)
		}
		return storeRaw(f.ByteSize, uint64(n)), nil

	case EncSigned:
		n, err := checkedInt(f, value)
		if err != nil {
			return nil, err
		}
		bits := f.ByteSize * 8
		lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
		if f.ByteSize == 8 {
			lo, hi = math.MinInt64, math.MaxInt64
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%s: %d out of range: %w", f.Name, n, ErrEncodeOverflow)
		}
		return storeRaw(f.ByteSize, uint64(n)), nil

	case EncFloat32:
		if math.IsNaN(value) || math.Abs(value) > math.MaxFloat32 {
			return nil, fmt.Errorf("%s: %v not representable: %w", f.Name, value, ErrEncodeOverflow)
		}
		return storeRaw(4, uint64(math.Float32bits(float32(value)))), nil

	case EncFixedPoint:
		n := int64(math.Round(value / f.Scale))
		bits := f.ByteSize * 8
		lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
		if f.ByteSize == 8 {
			lo, hi = math.MinInt64, math.MaxInt64
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%s: %v out of range: %w", f.Name, value, ErrEncodeOverflow)
		}
		return storeRaw(f.ByteSize, uint64(n)), nil

	case EncBitfield:
		n, err := checkedInt(f, value)
		if err != nil {
			return nil, err
		}
		if n < 0 || n >= int64(1)<<f.BitWidth {
			return nil, fmt.Errorf("%s: %d exceeds %d bits: %w", f.Name, n, f.BitWidth, ErrEncodeOverflow)
		}
		mask := (uint64(1)<<f.BitWidth - 1) << f.BitOffset
		merged := loadRaw(old)&^mask | uint64(n)<<f.BitOffset&mask
		return storeRaw(f.ByteSize, merged), nil
	}
	return nil, fmt.Errorf("%s: unknown encoding", f.Name)
}
