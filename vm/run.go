package gvm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RunDebug drives the VM one instruction (or one JIT'd loop) at a time
// from an interactive prompt, mirroring the teacher's line-stepping
// debugger but extended with a `jit` command that reports whether a JIT
// engine is attached; per-loop trace status is not shown.
func (vm *VM) RunDebug() {
	fmt.Printf("Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <offset>: break on bytecode offset\n\tjit: report whether a JIT engine is attached\n\n")

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakAtOffsets := make(map[int]struct{})
	lastBreak := -1

	for vm.errcode == nil {
		line := ""
		if waitForInput {
			fmt.Print("\n->")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else {
			offset := vm.frame().ip
			if _, ok := breakAtOffsets[offset]; ok && lastBreak != offset {
				fmt.Println("breakpoint")
				waitForInput = true
				lastBreak = offset
				continue
			}
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreak = -1
			vm.Step()
			if waitForInput {
				vm.printDebugOutput()
			}
		case line == "program":
			fmt.Println(vm.frame().chunk.Disassemble("main"))
		case line == "jit":
			if vm.jit == nil {
				fmt.Println("jit disabled")
			} else {
				fmt.Println("jit attached; per-loop compile status is reported via structured logs")
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.Join(strings.Split(line, " ")[1:], " ")
			offset, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("unknown offset:", err)
				continue
			}
			if _, ok := breakAtOffsets[offset]; ok {
				delete(breakAtOffsets, offset)
			} else {
				breakAtOffsets[offset] = struct{}{}
			}
		}
	}

	vm.printDebugOutput()
	if vm.errcode != errProgramFinished {
		fmt.Println(vm.errcode)
	}
}

// RunRelease runs the program to completion without the interactive loop.
func (vm *VM) RunRelease() {
	vm.Run()
	if err := vm.errcode; err != nil && err != errProgramFinished {
		fmt.Println(err)
	}
}
