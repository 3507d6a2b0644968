//go:build windows

// ds3pt-inject waits for DarkSoulsIII.exe and loads the practice tool DLL
// into it with the classic VirtualAllocEx + CreateRemoteThread LoadLibraryW
// sequence.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"
)

const gameProcessName = "DarkSoulsIII.exe"

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procVirtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread = kernel32.NewProc("CreateRemoteThread")
)

func main() {
	dll := flag.String("dll", "jdsd_dsiii_practice_tool.dll", "path to the practice tool DLL")
	wait := flag.Bool("wait", true, "wait for the game process to start")
	flag.Parse()

	dllPath, err := filepath.Abs(*dll)
	if err == nil {
		_, err = os.Stat(dllPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "DLL not found: %v\n", err)
		os.Exit(1)
	}

	pid, found := findGame()
	if !found {
		if !*wait {
			fmt.Fprintln(os.Stderr, gameProcessName+" is not running")
			os.Exit(1)
		}
		fmt.Println("Waiting for " + gameProcessName + "...")
		pid = waitForGame()
		// Give the game a moment to finish its own startup before loading.
		time.Sleep(3 * time.Second)
	}

	if err := inject(pid, dllPath); err != nil {
		fmt.Fprintf(os.Stderr, "injection failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[%d] practice tool loaded.\n", pid)
}

func findGame() (uint32, bool) {
	procs, err := process.Processes()
	if err != nil {
		return 0, false
	}
	for _, p := range procs {
		name, err := p.Name()
		if err == nil && strings.EqualFold(name, gameProcessName) {
			return uint32(p.Pid), true
		}
	}
	return 0, false
}

// waitForGame blocks on a WMI process-creation notification for the game.
func waitForGame() uint32 {
	if err := ole.CoInitialize(0); err != nil {
		return pollForGame()
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return pollForGame()
	}
	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return pollForGame()
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", nil, "root\\cimv2")
	if err != nil {
		return pollForGame()
	}
	service := serviceRaw.ToIDispatch()
	defer service.Release()

	query := "SELECT * FROM __InstanceCreationEvent WITHIN 1 WHERE TargetInstance ISA 'Win32_Process' AND TargetInstance.Name = '" + gameProcessName + "'"
	eventSourceRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", query)
	if err != nil {
		return pollForGame()
	}
	eventSource := eventSourceRaw.ToIDispatch()
	defer eventSource.Release()

	for {
		eventRaw, err := oleutil.CallMethod(eventSource, "NextEvent", 10000)
		if err != nil {
			continue
		}
		event := eventRaw.ToIDispatch()

		targetInstanceRaw, err := oleutil.GetProperty(event, "TargetInstance")
		if err != nil {
			event.Release()
			continue
		}
		targetInstance := targetInstanceRaw.ToIDispatch()
		pidVar, err := oleutil.GetProperty(targetInstance, "ProcessId")
		targetInstance.Release()
		event.Release()
		if err != nil {
			continue
		}
		return uint32(pidVar.Val)
	}
}

// pollForGame is the fallback when WMI is unavailable.
func pollForGame() uint32 {
	for {
		if pid, ok := findGame(); ok {
			return pid
		}
		time.Sleep(2 * time.Second)
	}
}

func inject(pid uint32, dllPath string) error {
	access := uint32(windows.PROCESS_CREATE_THREAD | windows.PROCESS_QUERY_INFORMATION |
		windows.PROCESS_VM_OPERATION | windows.PROCESS_VM_WRITE | windows.PROCESS_VM_READ)
	h, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		return fmt.Errorf("OpenProcess: %w", err)
	}
	defer windows.CloseHandle(h)

	path16, err := windows.UTF16FromString(dllPath)
	if err != nil {
		return err
	}
	size := uintptr(len(path16) * 2)

	remote, _, err := procVirtualAllocEx.Call(
		uintptr(h),
		0,
		size,
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_READWRITE,
	)
	if remote == 0 {
		return fmt.Errorf("VirtualAllocEx: %w", err)
	}
	defer procVirtualFreeEx.Call(uintptr(h), remote, 0, windows.MEM_RELEASE)

	var written uintptr
	if err := windows.WriteProcessMemory(h, remote,
		(*byte)(unsafe.Pointer(&path16[0])), size, &written); err != nil {
		return fmt.Errorf("WriteProcessMemory: %w", err)
	}

	k32, err := windows.GetModuleHandle(windows.StringToUTF16Ptr("kernel32.dll"))
	if err != nil {
		return fmt.Errorf("GetModuleHandle: %w", err)
	}
	loadLibraryW, err := windows.GetProcAddress(k32, "LoadLibraryW")
	if err != nil {
		return fmt.Errorf("GetProcAddress: %w", err)
	}

	thread, _, err := procCreateRemoteThread.Call(
		uintptr(h), 0, 0, loadLibraryW, remote, 0, 0,
	)
	if thread == 0 {
		return fmt.Errorf("CreateRemoteThread: %w", err)
	}
	defer windows.CloseHandle(windows.Handle(thread))

	if _, err := windows.WaitForSingleObject(windows.Handle(thread), windows.INFINITE); err != nil {
		return fmt.Errorf("WaitForSingleObject: %w", err)
	}
	return nil
}
