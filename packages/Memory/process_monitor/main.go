//go:build windows

// Package process_monitor answers one question for the hotkey poller:
// does the game currently own the foreground window? Hotkeys must not
// fire while the player is tabbed out.
package process_monitor

import (
	"syscall"
	"unsafe"

	"github.com/lxn/win"
)

var (
	user32                   = syscall.NewLazyDLL("user32.dll")
	procEnumWindows          = user32.NewProc("EnumWindows")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
)

type enumData struct {
	targetPID uint32
	hwnd      win.HWND
}

var enumProcCallback = syscall.NewCallback(enumProc)

func enumProc(hwnd uintptr, lParam uintptr) uintptr {
	data := (*enumData)(unsafe.Pointer(lParam))
	h := win.HWND(hwnd)
	if !win.IsWindowVisible(h) {
		return 1
	}
	length, _, _ := procGetWindowTextLengthW.Call(hwnd)
	if length == 0 {
		return 1
	}
	var pid uint32
	win.GetWindowThreadProcessId(h, &pid)
	if pid != data.targetPID {
		return 1
	}
	data.hwnd = h
	return 0
}

// MainWindow finds the visible titled window owned by pid.
func MainWindow(pid uint32) (win.HWND, bool) {
	data := enumData{targetPID: pid}
	procEnumWindows.Call(enumProcCallback, uintptr(unsafe.Pointer(&data)))
	return data.hwnd, data.hwnd != 0
}

// IsForeground reports whether pid owns the foreground window.
func IsForeground(pid uint32) bool {
	fg := win.GetForegroundWindow()
	if fg == 0 {
		return false
	}
	var fgPID uint32
	win.GetWindowThreadProcessId(fg, &fgPID)
	return fgPID == pid
}
