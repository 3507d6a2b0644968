// Package params edits fields inside live param table rows while the game
// keeps reading them every frame. Layouts are static per game version;
// every edit snapshots the original bytes so it can be reverted exactly.
package params

import (
	"errors"
	"fmt"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

var (
	// ErrUnresolved: the table's base pointer is currently unavailable.
	// Transient, retried every tick, never shown as more than "unavailable".
	ErrUnresolved = errors.New("param table unresolved")
	// ErrSchemaUnsupported: this game build has no layout for the table.
	ErrSchemaUnsupported = errors.New("param schema unsupported for this game version")
	// ErrEncodeOverflow: the value does not fit the field. Rejected before
	// any memory write.
	ErrEncodeOverflow = errors.New("value does not fit field")
	// ErrFieldNotFound: bad field name, a config or programming error.
	ErrFieldNotFound = errors.New("no such field in param schema")
)

type Encoding int

const (
	EncUnsigned Encoding = iota
	EncSigned
	EncFloat32
	EncFixedPoint
	EncBitfield
)

// FieldSchema describes one field of a param row. Bitfield fields share
// their containing byte(s) with siblings; all other encodings own their
// bytes outright.
type FieldSchema struct {
	Name       string
	ByteOffset int
	ByteSize   int
	BitOffset  int
	BitWidth   int
	Encoding   Encoding
	Scale      float64
}

// bitSpan is the field's occupancy inside the row, in bits. Overlap between
// fields is checked at this granularity so bitfields can share a byte.
func (f FieldSchema) bitSpan() (from, to int) {
	if f.Encoding == EncBitfield {
		from = f.ByteOffset*8 + f.BitOffset
		return from, from + f.BitWidth
	}
	from = f.ByteOffset * 8
	return from, from + f.ByteSize*8
}

func (f FieldSchema) validate() error {
	switch f.ByteSize {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("field %s: bad byte size %d", f.Name, f.ByteSize)
	}
	switch f.Encoding {
	case EncBitfield:
		if f.BitWidth < 1 || f.BitOffset < 0 || f.BitOffset+f.BitWidth > f.ByteSize*8 {
			return fmt.Errorf("field %s: bitfield %d+%d exceeds %d bits",
				f.Name, f.BitOffset, f.BitWidth, f.ByteSize*8)
		}
	case EncFixedPoint:
		if f.Scale == 0 {
			return fmt.Errorf("field %s: fixed-point with zero scale", f.Name)
		}
	case EncFloat32:
		if f.ByteSize != 4 {
			return fmt.Errorf("field %s: float32 must be 4 bytes", f.Name)
		}
	}
	return nil
}

// TableSchema is the layout of one param table for one game build.
type TableSchema struct {
	TableID   string
	RowStride int
	Fields    []FieldSchema

	byName map[string]*FieldSchema
}

func NewTableSchema(tableID string, rowStride int, fields ...FieldSchema) (*TableSchema, error) {
	t := &TableSchema{
		TableID:   tableID,
		RowStride: rowStride,
		Fields:    fields,
		byName:    make(map[string]*FieldSchema, len(fields)),
	}
	for i := range fields {
		f := &t.Fields[i]
		if err := f.validate(); err != nil {
			return nil, err
		}
		if f.ByteOffset+f.ByteSize > rowStride {
			return nil, fmt.Errorf("field %s: exceeds row stride %#x", f.Name, rowStride)
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("field %s: duplicate name", f.Name)
		}
		t.byName[f.Name] = f

		from, to := f.bitSpan()
		for j := 0; j < i; j++ {
			of, ot := t.Fields[j].bitSpan()
			if from < ot && of < to {
				return nil, fmt.Errorf("field %s overlaps %s", f.Name, t.Fields[j].Name)
			}
		}
	}
	return t, nil
}

func mustSchema(t *TableSchema, err error) *TableSchema {
	if err != nil {
		panic(err)
	}
	return t
}

func (t *TableSchema) Field(name string) (*FieldSchema, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// Registry maps (game build, table id) to a layout. Static data only.
type Registry struct {
	tables map[utils.Fingerprint]map[string]*TableSchema
}

func NewRegistry() *Registry {
	return &Registry{tables: map[utils.Fingerprint]map[string]*TableSchema{}}
}

func (r *Registry) Add(fp utils.Fingerprint, t *TableSchema) {
	m := r.tables[fp]
	if m == nil {
		m = map[string]*TableSchema{}
		r.tables[fp] = m
	}
	m[t.TableID] = t
}

// SchemaFor returns the layout for a table under a given build. ok is false
// both for unknown builds and unknown tables; the caller treats either as
// "feature disabled", never as a crash.
func (r *Registry) SchemaFor(tableID string, fp utils.Fingerprint) (*TableSchema, bool) {
	m, ok := r.tables[fp]
	if !ok {
		return nil, false
	}
	t, ok := m[tableID]
	return t, ok
}
