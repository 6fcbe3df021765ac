package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file>",
		Short: "Print a chunk's disassembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunk, err := compileFile(args[0])
			if err != nil {
				return err
			}

			// Each disassembly run gets a session id purely so a batch of
			// --jit-trace logs emitted by a later `run` of the same file
			// can be correlated back to the disasm that inspected it.
			session := uuid.New()
			fmt.Printf("; session %s\n", session)
			fmt.Print(chunk.Disassemble(args[0]))
			return nil
		},
	}
}
