// Command objresolve locates objects in a running process, or in a saved
// dump of one, by walking the process's object list.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
