package executor

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// errLowMemory is retried like any other spawn failure.
type errLowMemory struct {
	available, required uint64
}

func (e errLowMemory) Error() string {
	return fmt.Sprintf("low memory: %d MiB available, %d MiB required", e.available>>20, e.required>>20)
}

var virtualMemory = mem.VirtualMemory

func checkMemory(required uint64) error {
	if required == 0 {
		return nil
	}
	vm, err := virtualMemory()
	if err != nil {
		// Platforms without memory statistics run unguarded.
		return nil
	}
	if vm.Available < required {
		return errLowMemory{available: vm.Available, required: required}
	}
	return nil
}
