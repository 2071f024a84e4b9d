// The main package for the docketwatch executable.
package main

import (
	"github.com/docketwatch/docketwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
