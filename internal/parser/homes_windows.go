//go:build windows

package parser

import "golang.org/x/sys/windows/registry"

const lxssKey = `Software\Microsoft\Windows\CurrentVersion\Lxss`

// wslDistros reads the registered WSL distribution names from the
// current user's Lxss registry key.
func wslDistros() []string {
	k, err := registry.OpenKey(
		registry.CURRENT_USER, lxssKey, registry.ENUMERATE_SUB_KEYS,
	)
	if err != nil {
		return nil
	}
	defer k.Close()

	ids, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return nil
	}
	var names []string
	for _, id := range ids {
		sk, err := registry.OpenKey(k, id, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		name, _, err := sk.GetStringValue("DistributionName")
		sk.Close()
		if err == nil && name != "" {
			names = append(names, name)
		}
	}
	return names
}
