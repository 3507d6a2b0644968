// Package instance owns the per-attach session: the feature set, the
// resolved handle cache, the param engine and the script scheduler, all
// driven from the frame tick the render hook hands us.
package instance

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/params"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/resolver"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

// Feature status strings shown in the overlay/console.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusReady       = "ready"
	StatusUnavailable = "unavailable"
	StatusUnsupported = "unsupported"
	StatusFaulted     = "faulted"
)

// Env is what every feature gets to work with. Features never touch game
// memory except through Env.Mem, and never hold an address across ticks.
type Env struct {
	Mem     memory.Accessor
	Handles *resolver.Cache
	Engine  *params.Engine
	Offsets *utils.Offsets
	Log     *logrus.Entry
}

// fieldAddr resolves a named scalar field to a live address for this tick.
func (e *Env) fieldAddr(name string) (uintptr, utils.Field, bool) {
	if e.Offsets == nil {
		return 0, utils.Field{}, false
	}
	f, ok := e.Offsets.Fields[name]
	if !ok {
		return 0, utils.Field{}, false
	}
	h, ok := e.Handles.Get(f.Chain)
	if !ok {
		return 0, utils.Field{}, false
	}
	return uintptr(int64(h) + f.Offset), f, true
}

func (e *Env) readField(name string) (float64, bool, error) {
	addr, f, ok := e.fieldAddr(name)
	if !ok {
		return 0, false, nil
	}
	switch f.Kind {
	case utils.KindI32:
		v, err := memory.ReadInt32(e.Mem, addr)
		return float64(v), err == nil, err
	case utils.KindU32:
		v, err := memory.ReadUint32(e.Mem, addr)
		return float64(v), err == nil, err
	case utils.KindF32:
		v, err := memory.ReadFloat32(e.Mem, addr)
		return float64(v), err == nil, err
	case utils.KindU8:
		v, err := memory.ReadUint8(e.Mem, addr)
		return float64(v), err == nil, err
	}
	return 0, false, fmt.Errorf("field %s: unknown kind", name)
}

func (e *Env) writeField(name string, value float64) (bool, error) {
	addr, f, ok := e.fieldAddr(name)
	if !ok {
		return false, nil
	}
	switch f.Kind {
	case utils.KindI32:
		return true, memory.WriteInt32(e.Mem, addr, int32(value))
	case utils.KindU32:
		return true, memory.WriteUint32(e.Mem, addr, uint32(value))
	case utils.KindF32:
		return true, memory.WriteFloat32(e.Mem, addr, float32(value))
	case utils.KindU8:
		return true, memory.WriteUint8(e.Mem, addr, uint8(value))
	}
	return false, fmt.Errorf("field %s: unknown kind", name)
}

// Feature is one toggle/command of the tool. Tick runs once per frame
// while the session is live; a MemoryFault returned from Tick or
// SetEnabled disables the feature for the rest of the session.
type Feature interface {
	ID() string
	Label() string
	Enabled() bool
	Status() string
	SetEnabled(on bool) error
	Tick() error
}

// saver is the optional second action some features have (modifier+hotkey).
type saver interface {
	Save() error
}

// trigger marks features whose hotkey advances or fires on every press
// instead of toggling; the key dispatch prefers it over SetEnabled.
type trigger interface {
	Trigger() error
}

// nudger is the vertical position adjustment bound to its own keys.
type nudger interface {
	Nudge(delta float64) error
}
