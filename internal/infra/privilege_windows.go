//go:build windows

package infra

import "golang.org/x/sys/windows"

// isPrivileged reports whether the process token is elevated.
func isPrivileged() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
