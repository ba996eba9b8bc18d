//go:build windows

package cpr

import "golang.org/x/sys/windows"

func currentOSThreadID() int64 {
	return int64(windows.GetCurrentThreadId())
}
