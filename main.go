//go:build windows

// The practice tool is built as a c-shared DLL and loaded into the game by
// the injector under cmd/ds3pt-inject. Go's runtime starts on DLL load and
// runs init, which spawns the tool thread; main is never called.
package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"

	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/config"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/instance"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/memory"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/process_monitor"
	"github.com/soarqin/darksoulsiii-practice-tool/packages/Memory/utils"
)

const (
	gameProcessName = "DarkSoulsIII.exe"
	configFileName  = "jdsd_dsiii_practice_tool.toml"
	logFileName     = "jdsd_dsiii_practice_tool.log"

	// No render hook in this build; a fixed 60 Hz tick stands in for the
	// per-frame callback.
	frameInterval = time.Second / 60

	vkRShift = 0xA1
)

func main() {}

func init() {
	go run()
}

func run() {
	exePath, err := os.Executable()
	if err != nil {
		return
	}
	dir := filepath.Dir(exePath)

	cfg, cfgErr := config.Load(filepath.Join(dir, configFileName))
	if cfg == nil {
		cfg = config.Default()
	}

	log := setupLog(filepath.Join(dir, logFileName), cfg)
	if cfgErr != nil {
		log.WithError(cfgErr).Warn("config not loaded, using defaults")
	}
	if cfg.Settings.ShowConsole {
		allocConsole()
	}

	pid := uint32(os.Getpid())
	hostName := ""
	if p, err := process.NewProcess(int32(pid)); err == nil {
		hostName, _ = p.Name()
	}
	log.WithField("pid", pid).WithField("process", hostName).Info("loaded")

	var moduleBase uintptr
	var fp utils.Fingerprint
	if strings.EqualFold(hostName, gameProcessName) {
		if h, err := windows.GetModuleHandle(nil); err == nil {
			moduleBase = uintptr(h)
		}
		if fp, err = utils.FingerprintFile(exePath); err != nil {
			log.WithError(err).Error("could not fingerprint the game binary")
			moduleBase = 0
		}
	} else {
		log.WithField("process", hostName).Error("not running inside the game process")
	}

	sess := instance.New(memory.NewImage(), moduleBase, fp.SizeOfImage, fp, cfg, log)
	if v := sess.Version(); v != "" {
		log.Infof("game version %s", v)
	}

	loop(sess, cfg, pid)
	log.Info("unloaded")
}

func loop(sess *instance.Session, cfg *config.Config, pid uint32) {
	poller := newKeyPoller(cfg)
	displayKey, _ := config.KeyCode(cfg.Settings.Display)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for range ticker.C {
		sess.OnFrameTick()

		if !process_monitor.IsForeground(pid) {
			continue
		}
		for _, ev := range poller.poll() {
			if ev.code == displayKey && ev.pressed {
				if poller.down(vkRShift) {
					// rshift + display key ejects the tool.
					sess.OnDetach()
					return
				}
				printFeatures(sess)
				continue
			}
			sess.OnKeyEvent(ev.code, ev.pressed)
		}
	}
}
