// Command demandctl operates on the demandcast store directly: it loads
// login files, runs forecasts, tags anomalies and exports results without
// a running server.
package main

import (
	"fmt"
	"os"
)

func main() {
	c := &cli{openStore: openStore}
	root := newRootCmd(c)
	err := root.Execute()
	if cerr := c.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
