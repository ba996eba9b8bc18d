//go:build !linux && !windows

package cpr

func currentOSThreadID() int64 {
	return 0
}
