//go:build windows

package pipe

import "strings"

const pipePrefix = `\\.\pipe\`

// Address maps an endpoint name onto the local named pipe namespace.
func Address(name string) string {
	if strings.HasPrefix(name, `\\`) {
		return name
	}
	return pipePrefix + name
}
