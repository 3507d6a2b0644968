//go:build windows

package main

import (
	"io"
	"os"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lxn/win"
	"github.com/sirupsen/logrus"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/config"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/instance"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procAllocConsole = kernel32.NewProc("AllocConsole")
)

func allocConsole() {
	procAllocConsole.Call()
}

func setupLog(path string, cfg *config.Config) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})

	if lvl, err := logrus.ParseLevel(cfg.Settings.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return log.WithField("tool", "ds3pt")
}

// keyEvent is one hotkey transition seen by the poller.
type keyEvent struct {
	code    int
	pressed bool
}

// keyPoller edge-detects the keys the config binds, via GetAsyncKeyState.
// Polling happens on the tick thread, so events reach the session already
// serialized with the frame callback.
type keyPoller struct {
	keys []int
	prev map[int]bool
}

func newKeyPoller(cfg *config.Config) *keyPoller {
	seen := map[int]bool{}
	add := func(name string) {
		if name == "" {
			return
		}
		if code, ok := config.KeyCode(name); ok {
			seen[code] = true
		}
	}
	add(cfg.Settings.Display)
	for _, cmd := range cfg.Commands {
		add(cmd.Hotkey)
		add(cmd.Modifier)
		add(cmd.NudgeUp)
		add(cmd.NudgeDown)
	}
	seen[vkRShift] = true

	p := &keyPoller{prev: map[int]bool{}}
	for code := range seen {
		p.keys = append(p.keys, code)
	}
	return p
}

func (p *keyPoller) down(code int) bool {
	return win.GetAsyncKeyState(int32(code))&0x8000 != 0
}

func (p *keyPoller) poll() []keyEvent {
	var out []keyEvent
	for _, code := range p.keys {
		down := p.down(code)
		if down != p.prev[code] {
			p.prev[code] = down
			out = append(out, keyEvent{code: code, pressed: down})
		}
	}
	return out
}

func printFeatures(sess *instance.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Feature", "On", "Status"})
	for _, info := range sess.ListFeatures() {
		on := ""
		if info.Enabled {
			on = "x"
		}
		t.AppendRow(table.Row{info.ID, info.Label, on, info.Status})
	}
	t.Render()
}
