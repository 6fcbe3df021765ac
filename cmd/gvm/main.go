// Command gvm runs the gvmjit bytecode interpreter, optionally backed by
// its tracing JIT.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
