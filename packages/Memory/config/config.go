// Package config loads jdsd_dsiii_practice_tool.toml: hotkey bindings and
// per-command parameters. The engine consumes the parsed structure only;
// no other package knows the file exists.
package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type Settings struct {
	LogLevel    string `toml:"log_level"`
	Display     string `toml:"display"`
	ShowConsole bool   `toml:"show_console"`
}

// Command is one entry of the commands list. Exactly one of the command
// keys must be present; Hotkey is optional everywhere (UI-only toggle).
type Command struct {
	Flag           string    `toml:"flag,omitempty"`
	CycleSpeed     []float64 `toml:"cycle_speed,omitempty"`
	Souls          int       `toml:"souls,omitempty"`
	Position       bool      `toml:"position,omitempty"`
	CharacterStats bool      `toml:"character_stats,omitempty"`
	Quitout        bool      `toml:"quitout,omitempty"`

	Hotkey   string `toml:"hotkey,omitempty"`
	Modifier string `toml:"modifier,omitempty"`

	// Position only: vertical step and the keys that apply it.
	Nudge     float64 `toml:"nudge,omitempty"`
	NudgeUp   string  `toml:"nudge_up,omitempty"`
	NudgeDown string  `toml:"nudge_down,omitempty"`
}

func (c Command) kindCount() int {
	n := 0
	if c.Flag != "" {
		n++
	}
	if len(c.CycleSpeed) > 0 {
		n++
	}
	if c.Souls != 0 {
		n++
	}
	if c.Position {
		n++
	}
	if c.CharacterStats {
		n++
	}
	if c.Quitout {
		n++
	}
	return n
}

type Config struct {
	Settings Settings  `toml:"settings"`
	Commands []Command `toml:"commands"`
}

// Default mirrors the config file the tool ships with.
func Default() *Config {
	return &Config{
		Settings: Settings{
			LogLevel: "info",
			Display:  "0",
		},
		Commands: []Command{
			{Flag: "player_no_dead", Hotkey: "f2"},
			{Flag: "player_no_damage", Hotkey: "f3"},
			{Flag: "all_no_damage", Hotkey: "f4"},
			{Flag: "no_gravity", Hotkey: "f5"},
			{Flag: "deathcam", Hotkey: "f6"},
			{CycleSpeed: []float64{0.25, 1, 2, 5}, Hotkey: "f7"},
			{Souls: 10000, Hotkey: "f9"},
			{Position: true, Hotkey: "f1", Modifier: "lshift", Nudge: 0.1, NudgeUp: "up", NudgeDown: "down"},
			{CharacterStats: true, Hotkey: "f8"},
			{Quitout: true, Hotkey: "f10"},
		},
	}
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i, c := range cfg.Commands {
		if n := c.kindCount(); n != 1 {
			return nil, fmt.Errorf("commands[%d]: want exactly one command key, got %d", i, n)
		}
		if c.Hotkey != "" {
			if _, ok := KeyCode(c.Hotkey); !ok {
				return nil, fmt.Errorf("commands[%d]: unknown hotkey %q", i, c.Hotkey)
			}
		}
		if c.Modifier != "" {
			if _, ok := KeyCode(c.Modifier); !ok {
				return nil, fmt.Errorf("commands[%d]: unknown modifier %q", i, c.Modifier)
			}
		}
		if (c.Nudge != 0 || c.NudgeUp != "" || c.NudgeDown != "") && !c.Position {
			return nil, fmt.Errorf("commands[%d]: nudge keys only apply to the position command", i)
		}
		if c.NudgeUp != "" {
			if _, ok := KeyCode(c.NudgeUp); !ok {
				return nil, fmt.Errorf("commands[%d]: unknown nudge_up key %q", i, c.NudgeUp)
			}
		}
		if c.NudgeDown != "" {
			if _, ok := KeyCode(c.NudgeDown); !ok {
				return nil, fmt.Errorf("commands[%d]: unknown nudge_down key %q", i, c.NudgeDown)
			}
		}
	}
	if cfg.Settings.Display != "" {
		if _, ok := KeyCode(cfg.Settings.Display); !ok {
			return nil, fmt.Errorf("settings.display: unknown key %q", cfg.Settings.Display)
		}
	}
	return cfg, nil
}

// Load reads the file; a missing file is not an error, the defaults apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Virtual-key codes for the names accepted in the config file.
var namedKeys = map[string]int{
	"backspace": 0x08, "tab": 0x09, "enter": 0x0D, "escape": 0x1B,
	"space": 0x20, "pgup": 0x21, "pgdown": 0x22, "end": 0x23, "home": 0x24,
	"left": 0x25, "up": 0x26, "right": 0x27, "down": 0x28,
	"insert": 0x2D, "delete": 0x2E,
	"lshift": 0xA0, "rshift": 0xA1, "lctrl": 0xA2, "rctrl": 0xA3,
	"lalt": 0xA4, "ralt": 0xA5,
	"comma": 0xBC, "period": 0xBE,
}

// KeyCode maps a config key name to its Windows virtual-key code.
func KeyCode(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := namedKeys[name]; ok {
		return code, true
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= '0' && c <= '9':
			return int(c), true
		case c >= 'a' && c <= 'z':
			return int(c - 'a' + 'A'), true
		}
	}
	if strings.HasPrefix(name, "f") && len(name) <= 3 {
		n := 0
		for _, r := range name[1:] {
			if r < '0' || r > '9' {
				return 0, false
			}
			n = n*10 + int(r-'0')
		}
		if n >= 1 && n <= 12 {
			return 0x70 + n - 1, true
		}
	}
	return 0, false
}
