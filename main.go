// The main package for the imagefetch executable.
package main

import (
	"github.com/JakeFAU/imagefetch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
