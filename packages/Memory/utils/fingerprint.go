// Package utils holds the static per-version data the rest of the tool
// keys on: the fingerprint of the game binary and, for every supported
// version, the offset tables that make pointer chains and param layouts
// concrete. Unknown fingerprints fail closed; nothing ever guesses offsets.
package utils

import (
	"debug/pe"
	"fmt"
)

// Fingerprint identifies a DarkSoulsIII.exe build. Image size plus the
// linker timestamp is enough to tell every retail patch apart and is cheap
// to obtain from the PE headers without hashing the whole file.
type Fingerprint struct {
	SizeOfImage   uint32
	TimeDateStamp uint32
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("size=%#x stamp=%#x", f.SizeOfImage, f.TimeDateStamp)
}

// FingerprintFile reads the fingerprint from the executable on disk. The
// loaded image has the same headers, so this matches what is in memory.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := pe.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	opt, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	if !ok {
		return Fingerprint{}, fmt.Errorf("%s: not a 64-bit image", path)
	}
	return Fingerprint{
		SizeOfImage:   opt.SizeOfImage,
		TimeDateStamp: f.FileHeader.TimeDateStamp,
	}, nil
}
