// Command fedsim runs co-simulation scenarios on the virtual-time kernel.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/fedsim/fedsim/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
