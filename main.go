// The main package for the blockwell executable.
package main

import (
	"github.com/moodgrid/blockwell/cmd"
)

func main() {
	cmd.Execute()
}
