// Command auctiond runs the GPU credit auction scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/gpuauction/auctiond/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
