package instance

import (
	"errors"
	"fmt"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/params"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

// flagFeature forces one engine flag bit while enabled, and puts the
// original bit value back on disable. The forced value is re-asserted
// every tick because the game flips some of these bits itself.
type flagFeature struct {
	env *Env
	def utils.FlagDef

	enabled bool
	status  string
	origBit uint8
	origSet bool
}

func newFlagFeature(env *Env, def utils.FlagDef) *flagFeature {
	return &flagFeature{env: env, def: def, status: StatusInactive}
}

func (f *flagFeature) ID() string    { return f.def.Name }
func (f *flagFeature) Label() string { return f.def.Label }
func (f *flagFeature) Enabled() bool { return f.enabled }
func (f *flagFeature) Status() string {
	if f.env.Offsets == nil {
		return StatusUnsupported
	}
	return f.status
}

func (f *flagFeature) addr() (uintptr, bool) {
	h, ok := f.env.Handles.Get(f.def.Chain)
	if !ok {
		return 0, false
	}
	return uintptr(int64(h) + f.def.Offset), true
}

func (f *flagFeature) force(on uint8) error {
	addr, ok := f.addr()
	if !ok {
		f.status = StatusUnavailable
		return nil
	}
	b, err := memory.ReadUint8(f.env.Mem, addr)
	if err != nil {
		return err
	}
	if !f.origSet {
		f.origBit = b >> f.def.Bit & 1
		f.origSet = true
	}
	mask := uint8(1) << f.def.Bit
	want := b&^mask | on<<f.def.Bit
	if want != b {
		if err := memory.WriteUint8(f.env.Mem, addr, want); err != nil {
			return err
		}
	}
	f.status = StatusActive
	return nil
}

func (f *flagFeature) SetEnabled(on bool) error {
	if on == f.enabled {
		return nil
	}
	if !on {
		f.enabled = false
		f.status = StatusInactive
		if f.origSet {
			err := f.force(f.origBit)
			f.origSet = false
			f.status = StatusInactive
			return err
		}
		return nil
	}
	f.enabled = true
	return f.force(1)
}

func (f *flagFeature) Tick() error {
	if !f.enabled {
		return nil
	}
	return f.force(1)
}

// cycleSpeedFeature writes a configured animation speed while enabled.
// Triggering it again advances to the next speed; past the last one it
// restores the speed captured before the first write.
type cycleSpeedFeature struct {
	env    *Env
	speeds []float64

	enabled bool
	idx     int
	status  string
	orig    float64
	origSet bool
}

func newCycleSpeedFeature(env *Env, speeds []float64) *cycleSpeedFeature {
	return &cycleSpeedFeature{env: env, speeds: speeds, status: StatusInactive}
}

func (f *cycleSpeedFeature) ID() string    { return "cycle_speed" }
func (f *cycleSpeedFeature) Label() string { return "Cycle speed" }
func (f *cycleSpeedFeature) Enabled() bool { return f.enabled }
func (f *cycleSpeedFeature) Status() string {
	if f.env.Offsets == nil {
		return StatusUnsupported
	}
	if f.enabled {
		return fmt.Sprintf("%s (%g)", StatusActive, f.speeds[f.idx])
	}
	return f.status
}

func (f *cycleSpeedFeature) apply() error {
	cur, ok, err := f.env.readField("speed")
	if err != nil {
		return err
	}
	if !ok {
		f.status = StatusUnavailable
		return nil
	}
	if !f.origSet {
		f.orig = cur
		f.origSet = true
	}
	_, err = f.env.writeField("speed", f.speeds[f.idx])
	return err
}

func (f *cycleSpeedFeature) restore() error {
	if !f.origSet {
		return nil
	}
	f.origSet = false
	_, err := f.env.writeField("speed", f.orig)
	return err
}

func (f *cycleSpeedFeature) SetEnabled(on bool) error {
	if !on {
		if !f.enabled {
			return nil
		}
		f.enabled = false
		f.idx = 0
		f.status = StatusInactive
		return f.restore()
	}
	if f.enabled {
		// Next speed; wrapping past the end turns the feature off.
		f.idx++
		if f.idx >= len(f.speeds) {
			return f.SetEnabled(false)
		}
		return f.apply()
	}
	f.enabled = true
	f.idx = 0
	return f.apply()
}

// Trigger advances to the next configured speed. Past the last one the
// original speed comes back and the feature turns off.
func (f *cycleSpeedFeature) Trigger() error { return f.SetEnabled(true) }

func (f *cycleSpeedFeature) Tick() error {
	if !f.enabled {
		return nil
	}
	return f.apply()
}

// soulsFeature grants a configured amount of souls on each trigger.
type soulsFeature struct {
	env    *Env
	amount int
	status string
}

func newSoulsFeature(env *Env, amount int) *soulsFeature {
	return &soulsFeature{env: env, amount: amount, status: StatusReady}
}

func (f *soulsFeature) ID() string    { return "souls" }
func (f *soulsFeature) Label() string { return fmt.Sprintf("Add %d souls", f.amount) }
func (f *soulsFeature) Enabled() bool { return false }
func (f *soulsFeature) Status() string {
	if f.env.Offsets == nil {
		return StatusUnsupported
	}
	return f.status
}

func (f *soulsFeature) SetEnabled(on bool) error {
	if !on {
		return nil
	}
	cur, ok, err := f.env.readField("souls")
	if err != nil {
		return err
	}
	if !ok {
		f.status = StatusUnavailable
		return nil
	}
	f.status = StatusReady
	_, err = f.env.writeField("souls", cur+float64(f.amount))
	return err
}

func (f *soulsFeature) Tick() error { return nil }

// positionFeature stores the player position on Save and teleports back on
// trigger. Nothing persists across sessions.
type positionFeature struct {
	env    *Env
	status string

	saved    [4]float64 // x, y, z, angle
	savedSet bool
}

var positionFields = [4]string{"pos_x", "pos_y", "pos_z", "pos_angle"}

// defaultNudge is the vertical step used when the config does not set one.
const defaultNudge = 0.1

func newPositionFeature(env *Env) *positionFeature {
	return &positionFeature{env: env, status: StatusReady}
}

func (f *positionFeature) ID() string    { return "position" }
func (f *positionFeature) Label() string { return "Save/restore position" }
func (f *positionFeature) Enabled() bool { return false }
func (f *positionFeature) Status() string {
	if f.env.Offsets == nil {
		return StatusUnsupported
	}
	return f.status
}

func (f *positionFeature) Save() error {
	for i, name := range positionFields {
		v, ok, err := f.env.readField(name)
		if err != nil {
			return err
		}
		if !ok {
			f.status = StatusUnavailable
			return nil
		}
		f.saved[i] = v
	}
	f.savedSet = true
	f.status = StatusReady
	f.env.Log.WithField("pos", f.saved).Debug("position saved")
	return nil
}

func (f *positionFeature) SetEnabled(on bool) error {
	if !on || !f.savedSet {
		return nil
	}
	for i, name := range positionFields {
		ok, err := f.env.writeField(name, f.saved[i])
		if err != nil {
			return err
		}
		if !ok {
			f.status = StatusUnavailable
			return nil
		}
	}
	f.status = StatusReady
	return nil
}

// Nudge shifts the player vertically by delta without touching the saved
// slot. Positive goes up.
func (f *positionFeature) Nudge(delta float64) error {
	cur, ok, err := f.env.readField("pos_y")
	if err != nil {
		return err
	}
	if !ok {
		f.status = StatusUnavailable
		return nil
	}
	ok, err = f.env.writeField("pos_y", cur+delta)
	if err != nil {
		return err
	}
	if !ok {
		f.status = StatusUnavailable
		return nil
	}
	f.status = StatusReady
	return nil
}

func (f *positionFeature) Tick() error { return nil }

// quitoutFeature requests an instant quit to the main menu.
type quitoutFeature struct {
	env    *Env
	status string
}

func newQuitoutFeature(env *Env) *quitoutFeature {
	return &quitoutFeature{env: env, status: StatusReady}
}

func (f *quitoutFeature) ID() string    { return "quitout" }
func (f *quitoutFeature) Label() string { return "Quitout" }
func (f *quitoutFeature) Enabled() bool { return false }
func (f *quitoutFeature) Status() string {
	if f.env.Offsets == nil {
		return StatusUnsupported
	}
	return f.status
}

func (f *quitoutFeature) SetEnabled(on bool) error {
	if !on {
		return nil
	}
	ok, err := f.env.writeField("quitout", 1)
	if err != nil {
		return err
	}
	if !ok {
		f.status = StatusUnavailable
		return nil
	}
	f.status = StatusReady
	return nil
}

func (f *quitoutFeature) Tick() error { return nil }

// statsFeature dumps the character stats to the log on trigger; edits go
// through Session.SetPlayerField.
type statsFeature struct {
	env    *Env
	status string
}

var statNames = []string{
	"level", "vigor", "attunement", "endurance", "vitality",
	"strength", "dexterity", "intellect", "faith", "luck", "souls",
}

func newStatsFeature(env *Env) *statsFeature {
	return &statsFeature{env: env, status: StatusReady}
}

func (f *statsFeature) ID() string    { return "character_stats" }
func (f *statsFeature) Label() string { return "Character stats" }
func (f *statsFeature) Enabled() bool { return false }
func (f *statsFeature) Status() string {
	if f.env.Offsets == nil {
		return StatusUnsupported
	}
	return f.status
}

func (f *statsFeature) SetEnabled(on bool) error {
	if !on {
		return nil
	}
	entry := f.env.Log
	for _, name := range statNames {
		v, ok, err := f.env.readField(name)
		if err != nil {
			return err
		}
		if !ok {
			f.status = StatusUnavailable
			return nil
		}
		entry = entry.WithField(name, v)
	}
	f.status = StatusReady
	entry.Info("character stats")
	return nil
}

func (f *statsFeature) Tick() error { return nil }

// darksignFeature swaps the darksign icon as the visible "tool was used"
// marker, the same patch the original tool applies on startup. Param
// tables are not loaded right at attach, so it retries every tick until
// the row resolves.
type darksignFeature struct {
	env     *Env
	applied bool
	status  string
}

func newDarksignFeature(env *Env) *darksignFeature {
	return &darksignFeature{env: env, status: StatusUnavailable}
}

func (f *darksignFeature) ID() string    { return "darksign_icon" }
func (f *darksignFeature) Label() string { return "Darksign marker" }
func (f *darksignFeature) Enabled() bool { return f.applied }
func (f *darksignFeature) Status() string { return f.status }

func (f *darksignFeature) SetEnabled(on bool) error { return nil }

func (f *darksignFeature) Tick() error {
	if f.applied {
		return nil
	}
	row, found, err := f.env.Engine.FindRow("EquipParamGoods", "id", params.DarksignGoodsID)
	switch {
	case errors.Is(err, params.ErrSchemaUnsupported):
		f.status = StatusUnsupported
		f.applied = true // stop retrying, nothing will change for this session
		return nil
	case errors.Is(err, params.ErrUnresolved):
		f.status = StatusUnavailable
		return nil
	case err != nil:
		return err
	case !found:
		f.status = StatusUnavailable
		return nil
	}
	if err := f.env.Engine.SetField(row, "icon_id", params.DarksignToolIconID); err != nil {
		return err
	}
	f.applied = true
	f.status = StatusActive
	f.env.Log.WithField("row", row.Row).Debug("darksign icon patched")
	return nil
}
