package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	gvm "gvmjit/vm"
)

func newDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug <file>",
		Short: "Compile and run a program under the interactive step debugger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunk, err := compileFile(args[0])
			if err != nil {
				return err
			}

			engine, err := buildEngine()
			if err != nil {
				return errors.Wrap(err, "building JIT engine")
			}

			vm := gvm.NewVM(engine, true)
			vm.Load(chunk)
			vm.RunDebug()
			return nil
		},
	}
}
