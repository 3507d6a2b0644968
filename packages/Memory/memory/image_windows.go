//go:build windows

package memory

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var readableProtections = []uint32{
	windows.PAGE_READONLY,
	windows.PAGE_READWRITE,
	windows.PAGE_EXECUTE_READ,
	windows.PAGE_EXECUTE_READWRITE,
	windows.PAGE_WRITECOPY,
}

var writableProtections = []uint32{
	windows.PAGE_READWRITE,
	windows.PAGE_EXECUTE_READWRITE,
	windows.PAGE_WRITECOPY,
}

// Image accesses the address space of the process we are loaded into. On
// top of the region whitelist it checks the page state with VirtualQuery,
// so an access that raced a deallocation fails instead of crashing the game.
type Image struct {
	regionSet
}

func NewImage() *Image {
	return &Image{}
}

func pagesAllow(addr uintptr, size int, allowed []uint32) bool {
	end := addr + uintptr(size)
	for addr < end {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return false
		}
		if mbi.State != windows.MEM_COMMIT {
			return false
		}
		ok := false
		for _, p := range allowed {
			if mbi.Protect == p {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
		addr = mbi.BaseAddress + mbi.RegionSize
	}
	return true
}

func (m *Image) ReadBytes(addr uintptr, size int) ([]byte, error) {
	if _, ok := m.FindRegion(addr, size); !ok {
		return nil, faultf(addr, size, "outside all registered regions")
	}
	if !pagesAllow(addr, size, readableProtections) {
		return nil, faultf(addr, size, "page not committed or not readable")
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(addr)), size))
	return out, nil
}

func (m *Image) WriteBytes(addr uintptr, data []byte) error {
	if _, ok := m.FindRegion(addr, len(data)); !ok {
		return faultf(addr, len(data), "outside all registered regions")
	}
	if !pagesAllow(addr, len(data), writableProtections) {
		return faultf(addr, len(data), "page not committed or not writable")
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data)), data)
	return nil
}
