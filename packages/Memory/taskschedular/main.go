// Package taskschedular steps user-defined operation sequences, one
// step-unit per frame tick. Nothing in here blocks or sleeps; a waiting
// sequence just re-checks its predicate next tick from the same position.
package taskschedular

import (
	"fmt"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/params"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/resolver"
)

// Probe is the read-only view WaitUntil predicates get over resolved state.
type Probe interface {
	Handle(name string) (uintptr, bool)
	Field(row params.RowRef, field string) (float64, error)
}

type StepKind int

const (
	StepSetField StepKind = iota
	StepWaitUntil
	StepRepeat
)

type Step struct {
	Kind StepKind

	Row   params.RowRef
	Field string
	Value float64

	Cond func(p Probe) bool

	Count int
}

func SetField(row params.RowRef, field string, value float64) Step {
	return Step{Kind: StepSetField, Row: row, Field: field, Value: value}
}

func WaitUntil(cond func(p Probe) bool) Step {
	return Step{Kind: StepWaitUntil, Cond: cond}
}

// Repeat sends the sequence back to its first step, count times in total
// across the sequence's run.
func Repeat(count int) Step {
	return Step{Kind: StepRepeat, Count: count}
}

type State int

const (
	Idle State = iota
	Running
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Sequence is one named script. Requires lists the handles it depends on;
// if any of them stops resolving mid-run the sequence is cancelled rather
// than allowed to write through a stale address.
type Sequence struct {
	Name     string
	Requires []string
	Steps    []Step

	state State
	idx   int
	// remaining is keyed by step index so every Repeat step keeps its own
	// counter across the jumps back to the start.
	remaining map[int]int
}

func (s *Sequence) State() State { return s.state }

// Scheduler owns the sequences and advances them from the frame tick.
type Scheduler struct {
	engine  *params.Engine
	handles *resolver.Cache
	seqs    map[string]*Sequence
	order   []string
}

func New(engine *params.Engine, handles *resolver.Cache) *Scheduler {
	return &Scheduler{
		engine:  engine,
		handles: handles,
		seqs:    map[string]*Sequence{},
	}
}

func (s *Scheduler) Add(seq *Sequence) error {
	if _, dup := s.seqs[seq.Name]; dup {
		return fmt.Errorf("sequence %q already registered", seq.Name)
	}
	seq.state = Idle
	s.seqs[seq.Name] = seq
	s.order = append(s.order, seq.Name)
	return nil
}

func (s *Scheduler) Start(name string) error {
	seq, ok := s.seqs[name]
	if !ok {
		return fmt.Errorf("no sequence %q", name)
	}
	seq.state = Running
	seq.idx = 0
	seq.remaining = map[int]int{}
	return nil
}

// Cancel is terminal for the current run; Start begins a fresh one.
func (s *Scheduler) Cancel(name string) {
	if seq, ok := s.seqs[name]; ok && seq.state == Running {
		seq.state = Cancelled
	}
}

func (s *Scheduler) State(name string) State {
	if seq, ok := s.seqs[name]; ok {
		return seq.state
	}
	return Idle
}

func (s *Scheduler) Sequences() []*Sequence {
	out := make([]*Sequence, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.seqs[name])
	}
	return out
}

// Probe implementation handed to WaitUntil predicates.

func (s *Scheduler) Handle(name string) (uintptr, bool) {
	return s.handles.Get(name)
}

func (s *Scheduler) Field(row params.RowRef, field string) (float64, error) {
	return s.engine.GetField(row, field)
}

// StepAll advances every running sequence by exactly one step-unit. Called
// once per frame tick, after the resolver refresh for that tick.
func (s *Scheduler) StepAll() {
	for _, name := range s.order {
		seq := s.seqs[name]
		if seq.state != Running {
			continue
		}
		if !s.depsUp(seq) {
			seq.state = Cancelled
			continue
		}
		s.step(seq)
	}
}

func (s *Scheduler) depsUp(seq *Sequence) bool {
	for _, h := range seq.Requires {
		if _, ok := s.handles.Get(h); !ok {
			return false
		}
	}
	return true
}

func (s *Scheduler) step(seq *Sequence) {
	if seq.idx >= len(seq.Steps) {
		seq.state = Done
		return
	}
	st := seq.Steps[seq.idx]
	switch st.Kind {
	case StepSetField:
		if err := s.engine.SetField(st.Row, st.Field, st.Value); err != nil {
			seq.state = Cancelled
			return
		}
		seq.idx++
	case StepWaitUntil:
		if st.Cond(s) {
			seq.idx++
		}
	case StepRepeat:
		rem, primed := seq.remaining[seq.idx]
		if !primed {
			rem = st.Count - 1
		}
		if rem > 0 {
			seq.remaining[seq.idx] = rem - 1
			seq.idx = 0
			return
		}
		seq.remaining[seq.idx] = 0
		seq.idx++
	}
	if seq.idx >= len(seq.Steps) {
		seq.state = Done
	}
}
