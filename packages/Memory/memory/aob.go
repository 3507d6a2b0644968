package memory

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Pattern is an array-of-bytes signature with wildcards, the usual
// "48 8B 05 ?? ?? ?? 04" cheat-table syntax.
type Pattern struct {
	bytes []byte
	mask  []bool
}

func ParsePattern(aob string) (Pattern, error) {
	var p Pattern
	for _, tok := range strings.Fields(aob) {
		if len(tok) != 2 {
			return Pattern{}, fmt.Errorf("bad pattern token %q", tok)
		}
		if strings.Contains(tok, "?") {
			p.bytes = append(p.bytes, 0)
			p.mask = append(p.mask, false)
			continue
		}
		b, err := hex.DecodeString(tok)
		if err != nil {
			return Pattern{}, fmt.Errorf("bad pattern token %q: %w", tok, err)
		}
		p.bytes = append(p.bytes, b[0])
		p.mask = append(p.mask, true)
	}
	if len(p.bytes) == 0 {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	return p, nil
}

func (p Pattern) Len() int { return len(p.bytes) }

func (p Pattern) matchAt(data []byte, i int) bool {
	for j := range p.bytes {
		if p.mask[j] && p.bytes[j] != data[i+j] {
			return false
		}
	}
	return true
}

// Find returns the address of the first match inside data, which was read
// starting at base. ok is false when the pattern does not occur.
func (p Pattern) Find(data []byte, base uintptr) (uintptr, bool) {
	for i := 0; i+p.Len() <= len(data); i++ {
		if p.matchAt(data, i) {
			return base + uintptr(i), true
		}
	}
	return 0, false
}

// chunk size for scanning a region through an Accessor without pulling the
// whole image into one allocation. Chunks overlap by the pattern length so
// matches on a boundary are not lost.
const scanChunk = 1 << 20

// Scan searches a registered region for the pattern via m.
func Scan(m Accessor, r Region, p Pattern) (uintptr, bool) {
	if p.Len() == 0 || uintptr(p.Len()) > r.Size {
		return 0, false
	}
	for off := uintptr(0); off < r.Size; off += scanChunk - uintptr(p.Len()) {
		size := uintptr(scanChunk)
		if off+size > r.Size {
			size = r.Size - off
		}
		if size < uintptr(p.Len()) {
			break
		}
		data, err := m.ReadBytes(r.Base+off, int(size))
		if err != nil {
			return 0, false
		}
		if addr, ok := p.Find(data, r.Base+off); ok {
			return addr, true
		}
	}
	return 0, false
}
