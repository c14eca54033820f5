//go:build !linux

package controller

func memory() (total, free uint64) {
	return fallbackMemory()
}
