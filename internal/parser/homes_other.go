//go:build !windows

package parser

// wslDistros is empty off Windows: WSL shares only exist there.
func wslDistros() []string { return nil }
