package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	gvm "gvmjit/vm"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Compile and run a program to completion",
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

			vm := gvm.NewVM(engine, false)
			vm.Load(chunk)
			vm.RunRelease()
			return nil
		},
	}
}

func compileFile(path string) (*gvm.Chunk, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	chunk, err := gvm.Compile(string(source))
	if err != nil {
		return nil, errors.Wrapf(err, "compiling %s", path)
	}
	return chunk, nil
}
