package controller

import "runtime"

// fallbackMemory reports the Go runtime's view when the host offers nothing
// better.
func fallbackMemory() (total, free uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, ms.Sys - ms.HeapInuse
}
