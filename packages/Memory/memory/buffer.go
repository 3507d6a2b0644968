package memory

// Buffer is an Accessor over plain byte slices instead of the live process
// image. Tests run the whole engine against it; it is also what the session
// falls back to when it is inert, so callers never need a nil check.
type Buffer struct {
	regionSet
	data map[string][]byte
}

func NewBuffer() *Buffer {
	return &Buffer{data: map[string][]byte{}}
}

// Map registers a region backed by data. The slice is used in place, so a
// test can mutate it afterwards to simulate the game overwriting a row.
func (b *Buffer) Map(name string, base uintptr, data []byte) {
	b.RegisterRegion(Region{Name: name, Base: base, Size: uintptr(len(data))})
	b.data[name] = data
}

func (b *Buffer) Unmap(name string) {
	b.DropRegion(name)
	delete(b.data, name)
}

// Bytes returns the backing slice of a mapped region, nil if unknown.
func (b *Buffer) Bytes(name string) []byte {
	return b.data[name]
}

func (b *Buffer) ReadBytes(addr uintptr, size int) ([]byte, error) {
	r, ok := b.FindRegion(addr, size)
	if !ok {
		return nil, faultf(addr, size, "outside all registered regions")
	}
	src, err := b.backing(r, addr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, src)
	return out, nil
}

func (b *Buffer) WriteBytes(addr uintptr, data []byte) error {
	r, ok := b.FindRegion(addr, len(data))
	if !ok {
		return faultf(addr, len(data), "outside all registered regions")
	}
	dst, err := b.backing(r, addr, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// backing returns the window for [addr, addr+size) inside r. Regions can be
// registered without mapped data behind them; accessing one is a fault, not
// a panic.
func (b *Buffer) backing(r Region, addr uintptr, size int) ([]byte, error) {
	data := b.data[r.Name]
	off := addr - r.Base
	if off+uintptr(size) > uintptr(len(data)) {
		return nil, faultf(addr, size, "region "+r.Name+" has no backing data")
	}
	return data[off : off+uintptr(size)], nil
}
