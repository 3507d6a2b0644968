// Package memory is the only place allowed to touch game memory. Every
// access goes through an Accessor, and every Accessor validates the target
// against the set of registered regions before the raw access happens.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PointerSize is fixed: DarkSoulsIII.exe is a 64-bit image.
const PointerSize = 8

// MemoryFault reports an access that fell outside every registered region,
// or that the underlying image rejected. The access is never attempted.
type MemoryFault struct {
	Addr   uintptr
	Size   int
	Reason string
}

func (e *MemoryFault) Error() string {
	return fmt.Sprintf("memory fault at %#x (%d bytes): %s", e.Addr, e.Size, e.Reason)
}

// IsFault reports whether err is (or wraps) a MemoryFault.
func IsFault(err error) bool {
	var mf *MemoryFault
	return errors.As(err, &mf)
}

func faultf(addr uintptr, size int, format string, args ...interface{}) error {
	return &MemoryFault{Addr: addr, Size: size, Reason: fmt.Sprintf(format, args...)}
}

// Region is a named span of game memory that accesses are allowed to hit.
// The module image is registered once at attach; param table regions come
// and go as their base pointers resolve.
type Region struct {
	Name string
	Base uintptr
	Size uintptr
}

func (r Region) End() uintptr { return r.Base + r.Size }

func (r Region) Contains(addr uintptr, size int) bool {
	if size < 0 {
		return false
	}
	return addr >= r.Base && addr+uintptr(size) <= r.End()
}

// Accessor is the chokepoint over game memory. No other package performs
// raw address arithmetic on live memory.
type Accessor interface {
	RegisterRegion(r Region)
	DropRegion(name string)
	FindRegion(addr uintptr, size int) (Region, bool)

	ReadBytes(addr uintptr, size int) ([]byte, error)
	WriteBytes(addr uintptr, data []byte) error
}

// regionSet is shared by every Accessor implementation. The caller model is
// single-threaded (frame tick plus UI calls serialized with it), so no lock.
type regionSet struct {
	regions []Region
}

func (s *regionSet) RegisterRegion(r Region) {
	for i := range s.regions {
		if s.regions[i].Name == r.Name {
			s.regions[i] = r
			return
		}
	}
	s.regions = append(s.regions, r)
}

func (s *regionSet) DropRegion(name string) {
	for i := range s.regions {
		if s.regions[i].Name == name {
			s.regions = append(s.regions[:i], s.regions[i+1:]...)
			return
		}
	}
}

func (s *regionSet) FindRegion(addr uintptr, size int) (Region, bool) {
	for _, r := range s.regions {
		if r.Contains(addr, size) {
			return r, true
		}
	}
	return Region{}, false
}

// Typed access. Everything is little-endian, same as the game's own layout.

func ReadUint8(m Accessor, addr uintptr) (uint8, error) {
	b, err := m.ReadBytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadUint16(m Accessor, addr uintptr) (uint16, error) {
	b, err := m.ReadBytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func ReadUint32(m Accessor, addr uintptr) (uint32, error) {
	b, err := m.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func ReadUint64(m Accessor, addr uintptr) (uint64, error) {
	b, err := m.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func ReadInt32(m Accessor, addr uintptr) (int32, error) {
	v, err := ReadUint32(m, addr)
	return int32(v), err
}

func ReadFloat32(m Accessor, addr uintptr) (float32, error) {
	v, err := ReadUint32(m, addr)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func ReadFloat64(m Accessor, addr uintptr) (float64, error) {
	v, err := ReadUint64(m, addr)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadPointer reads a pointer-sized value. A zero result is not an error
// here; nullness is the resolver's business.
func ReadPointer(m Accessor, addr uintptr) (uintptr, error) {
	v, err := ReadUint64(m, addr)
	return uintptr(v), err
}

func WriteUint8(m Accessor, addr uintptr, v uint8) error {
	return m.WriteBytes(addr, []byte{v})
}

func WriteUint16(m Accessor, addr uintptr, v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return m.WriteBytes(addr, b)
}

func WriteUint32(m Accessor, addr uintptr, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return m.WriteBytes(addr, b)
}

func WriteUint64(m Accessor, addr uintptr, v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return m.WriteBytes(addr, b)
}

func WriteInt32(m Accessor, addr uintptr, v int32) error {
	return WriteUint32(m, addr, uint32(v))
}

func WriteFloat32(m Accessor, addr uintptr, v float32) error {
	return WriteUint32(m, addr, math.Float32bits(v))
}

func WriteFloat64(m Accessor, addr uintptr, v float64) error {
	return WriteUint64(m, addr, math.Float64bits(v))
}
