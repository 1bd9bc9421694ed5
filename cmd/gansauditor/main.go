// Command gansauditor runs the audit server loop over standard input and
// output.
package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/gansauditor/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
