package instance

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/config"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/params"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/resolver"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/taskschedular"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

type binding struct {
	key      int
	modifier int
	id       string
	nudge    float64 // signed delta for nudge bindings, 0 otherwise
}

// Session is the process-wide lifecycle object, created at attach and torn
// down (reverting every patch) at detach. All of its methods run on the
// thread the game hands control to, so there is exactly one logical caller.
type Session struct {
	log *logrus.Entry
	mem memory.Accessor

	moduleBase uintptr
	imageSize  uint32
	fp         utils.Fingerprint
	offsets    *utils.Offsets

	handles *resolver.Cache
	engine  *params.Engine
	sched   *taskschedular.Scheduler

	features []Feature
	byID     map[string]Feature
	disabled map[string]bool
	bindings []binding
	keyDown  map[int]bool

	loggedOnce map[string]bool
	inert      bool
	tick       uint64
}

// Info is one row of the feature list shown by the overlay/console.
type Info struct {
	ID      string
	Label   string
	Enabled bool
	Status  string
}

// New builds the session at attach time. A zero moduleBase is the one
// fatal condition: the session is constructed inert and every operation
// short-circuits. An unknown fingerprint is NOT fatal; the session runs
// fail-closed with no chains and no schemas, so every feature just reports
// unsupported.
func New(mem memory.Accessor, moduleBase uintptr, imageSize uint32, fp utils.Fingerprint,
	cfg *config.Config, log *logrus.Entry) *Session {

	s := &Session{
		log:        log,
		mem:        mem,
		moduleBase: moduleBase,
		imageSize:  imageSize,
		fp:         fp,
		byID:       map[string]Feature{},
		disabled:   map[string]bool{},
		keyDown:    map[int]bool{},
		loggedOnce: map[string]bool{},
	}
	if moduleBase == 0 {
		s.inert = true
		log.Error("module base could not be established, session is inert")
		return s
	}

	mem.RegisterRegion(memory.Region{Name: "module", Base: moduleBase, Size: uintptr(imageSize)})

	offsets, known := utils.LookupOffsets(fp)
	if known && !s.anchorMatches(offsets) {
		log.WithField("version", offsets.Version).
			Warn("fingerprint matched but anchor pattern did not, treating version as unknown")
		known = false
	}
	if known {
		s.offsets = offsets
		log.WithField("version", offsets.Version).Info("game version recognized")
	} else {
		log.WithField("fingerprint", fp.String()).
			WithField("supported", utils.KnownVersions()).
			Warn("unknown game version, all features disabled")
	}

	var chains []resolver.Chain
	if s.offsets != nil {
		chains = s.offsets.Chains
	}
	s.handles = resolver.NewCache(mem, moduleBase, chains)
	s.engine = params.NewEngine(mem, params.Builtin(utils.KnownFingerprints()...), fp)
	s.sched = taskschedular.New(s.engine, s.handles)

	env := &Env{Mem: mem, Handles: s.handles, Engine: s.engine, Offsets: s.offsets, Log: log}
	s.buildFeatures(env, cfg)
	return s
}

// anchorMatches scans the image for the version's anchor bytes. A matching
// fingerprint with a missing anchor means a repacked or patched binary;
// offsets cannot be trusted then.
func (s *Session) anchorMatches(o *utils.Offsets) bool {
	if o.Anchor == "" {
		return true
	}
	pat, err := memory.ParsePattern(o.Anchor)
	if err != nil {
		return false
	}
	_, ok := memory.Scan(s.mem, memory.Region{Name: "module", Base: s.moduleBase, Size: uintptr(s.imageSize)}, pat)
	return ok
}

func (s *Session) buildFeatures(env *Env, cfg *config.Config) {
	add := func(f Feature, cmd config.Command) {
		if _, dup := s.byID[f.ID()]; dup {
			s.log.WithField("feature", f.ID()).Warn("duplicate feature in config, ignoring")
			return
		}
		s.features = append(s.features, f)
		s.byID[f.ID()] = f
		if cmd.Hotkey != "" {
			key, _ := config.KeyCode(cmd.Hotkey)
			mod := 0
			if cmd.Modifier != "" {
				mod, _ = config.KeyCode(cmd.Modifier)
			}
			s.bindings = append(s.bindings, binding{key: key, modifier: mod, id: f.ID()})
		}
	}

	for _, cmd := range cfg.Commands {
		switch {
		case cmd.Flag != "":
			def, ok := s.flagDef(cmd.Flag)
			if !ok {
				s.log.WithField("flag", cmd.Flag).Warn("unknown flag in config, ignoring")
				continue
			}
			add(newFlagFeature(env, def), cmd)
		case len(cmd.CycleSpeed) > 0:
			add(newCycleSpeedFeature(env, cmd.CycleSpeed), cmd)
		case cmd.Souls != 0:
			add(newSoulsFeature(env, cmd.Souls), cmd)
		case cmd.Position:
			pf := newPositionFeature(env)
			add(pf, cmd)
			amount := cmd.Nudge
			if amount == 0 {
				amount = defaultNudge
			}
			if cmd.NudgeUp != "" {
				if key, ok := config.KeyCode(cmd.NudgeUp); ok {
					s.bindings = append(s.bindings, binding{key: key, id: pf.ID(), nudge: amount})
				}
			}
			if cmd.NudgeDown != "" {
				if key, ok := config.KeyCode(cmd.NudgeDown); ok {
					s.bindings = append(s.bindings, binding{key: key, id: pf.ID(), nudge: -amount})
				}
			}
		case cmd.CharacterStats:
			add(newStatsFeature(env), cmd)
		case cmd.Quitout:
			add(newQuitoutFeature(env), cmd)
		}
	}
	add(newDarksignFeature(env), config.Command{})
}

func (s *Session) flagDef(name string) (utils.FlagDef, bool) {
	if s.offsets == nil {
		// Keep the feature visible (as unsupported) even without offsets.
		return utils.FlagDef{Name: name, Label: name}, true
	}
	for _, def := range s.offsets.Flags {
		if def.Name == name {
			return def, true
		}
	}
	return utils.FlagDef{}, false
}

// logOnce rate-limits fault logging to one line per distinct cause per
// session; faults recur every tick once they start.
func (s *Session) logOnce(key string, err error) {
	if s.loggedOnce[key] {
		return
	}
	s.loggedOnce[key] = true
	s.log.WithError(err).Warn(key)
}

// OnFrameTick runs once per game frame: refresh every handle, re-register
// the param tables that resolved, keep live patches applied, tick the
// features and advance the scripts. One feature's failure never aborts the
// rest of the tick.
func (s *Session) OnFrameTick() {
	if s.inert {
		return
	}
	s.tick++

	for _, err := range s.handles.Refresh() {
		s.logOnce("pointer chain fault", err)
	}

	if s.offsets != nil {
		for _, pt := range s.offsets.ParamTables {
			if base, ok := s.handles.Get(pt.Chain); ok {
				if err := s.engine.SetTableBase(pt.TableID, base, pt.Rows); err != nil {
					s.logOnce("param table "+pt.TableID, err)
				}
			} else {
				s.engine.DropTableBase(pt.TableID)
			}
		}
	}

	for _, err := range s.engine.Reapply() {
		s.logOnce("patch reapply fault", err)
	}

	for _, f := range s.features {
		if s.disabled[f.ID()] {
			continue
		}
		if err := f.Tick(); err != nil {
			s.quarantine(f, err)
		}
	}

	s.sched.StepAll()
}

// quarantine disables a faulted feature for the rest of the session.
func (s *Session) quarantine(f Feature, err error) {
	s.disabled[f.ID()] = true
	s.logOnce("feature "+f.ID(), fmt.Errorf("disabled for this session: %w", err))
}

// OnKeyEvent receives raw key transitions from the input hook. Bindings
// with a modifier fire the feature's secondary action (save) when the
// modifier is held. Nudge bindings and trigger features fire on every
// press; everything else toggles.
func (s *Session) OnKeyEvent(code int, pressed bool) {
	if s.inert {
		return
	}
	s.keyDown[code] = pressed
	if !pressed {
		return
	}
	for _, b := range s.bindings {
		if b.key != code || s.disabled[b.id] {
			continue
		}
		f := s.byID[b.id]
		if b.nudge != 0 {
			if n, ok := f.(nudger); ok {
				if err := n.Nudge(b.nudge); err != nil {
					s.quarantine(f, err)
				}
			}
			continue
		}
		if b.modifier != 0 && s.keyDown[b.modifier] {
			if sv, ok := f.(saver); ok {
				if err := sv.Save(); err != nil {
					s.quarantine(f, err)
				}
				continue
			}
		}
		if tr, ok := f.(trigger); ok {
			if err := tr.Trigger(); err != nil {
				s.quarantine(f, err)
			}
			continue
		}
		if err := f.SetEnabled(!f.Enabled()); err != nil {
			s.quarantine(f, err)
		}
	}
}

// OnDetach reverts every live patch and restores every forced flag, then
// drops all handles. The game must be left exactly as found.
func (s *Session) OnDetach() {
	if s.inert {
		return
	}
	for _, f := range s.features {
		if f.Enabled() && !s.disabled[f.ID()] {
			if err := f.SetEnabled(false); err != nil {
				s.log.WithError(err).WithField("feature", f.ID()).Warn("restore on detach failed")
			}
		}
	}
	for _, err := range s.engine.RevertAll() {
		s.log.WithError(err).Warn("revert on detach failed")
	}
	s.handles.Drop()
	s.log.Info("session detached")
}

// ListFeatures returns the feature table for the overlay/console.
func (s *Session) ListFeatures() []Info {
	out := make([]Info, 0, len(s.features))
	for _, f := range s.features {
		st := f.Status()
		if s.disabled[f.ID()] {
			st = StatusFaulted
		}
		out = append(out, Info{ID: f.ID(), Label: f.Label(), Enabled: f.Enabled(), Status: st})
	}
	return out
}

// SetFeature is the UI toggle entry point.
func (s *Session) SetFeature(id string, on bool) error {
	if s.inert {
		return fmt.Errorf("session is inert")
	}
	f, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("no feature %q", id)
	}
	if s.disabled[id] {
		return fmt.Errorf("feature %q faulted earlier and is disabled for this session", id)
	}
	if err := f.SetEnabled(on); err != nil {
		s.quarantine(f, err)
		return err
	}
	return nil
}

// GetFieldValue reads one param field for the UI.
func (s *Session) GetFieldValue(tableID string, row int, field string) (float64, error) {
	if s.inert {
		return 0, fmt.Errorf("session is inert")
	}
	return s.engine.GetField(params.RowRef{TableID: tableID, Row: row}, field)
}

// SetFieldValue edits one param field for the UI.
func (s *Session) SetFieldValue(tableID string, row int, field string, value float64) error {
	if s.inert {
		return fmt.Errorf("session is inert")
	}
	return s.engine.SetField(params.RowRef{TableID: tableID, Row: row}, field, value)
}

// GetPlayerField reads a named scalar on a resolved structure (stats,
// position, souls). ok is false while the structure is unavailable.
func (s *Session) GetPlayerField(name string) (float64, bool, error) {
	if s.inert || s.offsets == nil {
		return 0, false, nil
	}
	env := &Env{Mem: s.mem, Handles: s.handles, Engine: s.engine, Offsets: s.offsets, Log: s.log}
	return env.readField(name)
}

// SetPlayerField writes a named scalar on a resolved structure.
func (s *Session) SetPlayerField(name string, value float64) error {
	if s.inert {
		return fmt.Errorf("session is inert")
	}
	if s.offsets == nil {
		return fmt.Errorf("unsupported game version")
	}
	env := &Env{Mem: s.mem, Handles: s.handles, Engine: s.engine, Offsets: s.offsets, Log: s.log}
	ok, err := env.writeField(name, value)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("field %q unavailable", name)
	}
	return nil
}

// Scheduler exposes the script scheduler so the front end can register and
// start sequences.
func (s *Session) Scheduler() *taskschedular.Scheduler { return s.sched }

// Inert reports whether attach failed fatally.
func (s *Session) Inert() bool { return s.inert }

// Version returns the recognized build label, empty when unknown.
func (s *Session) Version() string {
	if s.offsets == nil {
		return ""
	}
	return s.offsets.Version
}
