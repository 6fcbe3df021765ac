package gvm

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// JIT is the hook surface the interpreter drives. It is implemented outside
// this package (internal/jit.Engine) so that gvm never imports the
// compiler - the compiler imports gvm for Chunk/Value instead, keeping the
// dependency arrow pointing one way.
//
// OnBackEdge fires every time the dispatcher executes OpLoop (the
// dedicated back-edge opcode); RecordStep fires once per interpreted
// instruction. Neither is called when JIT is nil, which is how
// --jit=false is implemented.
type JIT interface {
	OnBackEdge(vm *VM, loopOffset int) (tookCompiledPath bool)
	RecordStep(vm *VM, offset int, op Op)
	Cleanup()
}

type callFrame struct {
	chunk      *Chunk
	ip         int
	localsBase int
	stackBase  int
}

// VM is a single interpreter core: one operand stack, one flat locals
// array shared (at disjoint offsets) by every active call frame, one
// globals array, and one object heap. The locals array is the
// "locals-base" the JIT works from: internal/jit copies it into an int64
// buffer for compiled code and writes live slots back afterwards. call/ret
// grow and shrink it between instructions, never while native code runs.
type VM struct {
	stack   []Value
	locals  []Value
	globals []Value

	frames []callFrame

	heap *Heap

	devices      [numDevicePorts]HardwareDevice
	responseBus  *deviceResponseBus
	interruptTab [numDevicePorts]uint32

	jit JIT

	errcode error

	stdout *bufio.Writer
	stdin  *bufio.Reader

	debugOut *strings.Builder
	debugSym map[int]string

	mainChunk *Chunk
}

const numDevicePorts = 4

// deviceResponseBus collects device Responses for the interpreter to drain
// between instructions - devices run on their own goroutines (systemTimer,
// consoleIO), so this is the only place their output crosses back onto the
// VM's single-threaded dispatch loop.
type deviceResponseBus struct {
	ch chan *Response
}

func newDeviceResponseBus() *deviceResponseBus {
	return &deviceResponseBus{ch: make(chan *Response, 64)}
}

func (b *deviceResponseBus) Send(r *Response) {
	select {
	case b.ch <- r:
	default:
		// Bus full: drop rather than block a device goroutine forever.
	}
}

func (b *deviceResponseBus) drain(vm *VM) {
	for {
		select {
		case r := <-b.ch:
			vm.interruptTab[r.interruptAddr] = 1
			_ = r // payload delivery to a handler chunk is future work; the
			// interrupt table flag is enough for devices.go's current users
			// (timer expiry, char-ready) to be observed by polling code.
		default:
			return
		}
	}
}

// NewVM constructs an interpreter with its standard device set attached
// and ready to load a Chunk. jit may be nil to run purely interpreted.
func NewVM(jit JIT, debug bool) *VM {
	vm := &VM{
		globals:     make([]Value, 0, 64),
		heap:        newHeap(),
		responseBus: newDeviceResponseBus(),
		jit:         jit,
		stdin:       bufio.NewReader(os.Stdin),
	}

	if debug {
		vm.debugOut = &strings.Builder{}
		vm.debugSym = make(map[int]string)
		vm.stdout = bufio.NewWriter(vm.debugOut)
	} else {
		vm.stdout = bufio.NewWriter(os.Stdout)
	}

	base := DeviceBaseInfo{ResponseBus: vm.responseBus}
	vm.devices[0] = newNoDevice()
	base.InterruptAddr = 1
	vm.devices[1] = newSystemTimer(base)
	base.InterruptAddr = 2
	vm.devices[2] = newPowerController(base, vm)
	base.InterruptAddr = 3
	vm.devices[3] = newConsoleIO(base, vm)

	return vm
}

// Load installs chunk as the program to run, adopting the chunk's
// compile-time string heap as the base of the runtime heap so constant
// Values stay valid handles.
func (vm *VM) Load(chunk *Chunk) {
	vm.mainChunk = chunk
	if chunk.constHeap != nil {
		vm.heap = chunk.constHeap
	}
	vm.globals = make([]Value, len(chunk.Names))
	vm.locals = make([]Value, chunk.NumLocals)
	vm.stack = vm.stack[:0]
	vm.frames = []callFrame{{chunk: chunk, ip: 0, localsBase: 0, stackBase: 0}}
}

func (vm *VM) reset() {
	vm.Load(vm.mainChunk)
	vm.errcode = nil
}

func (vm *VM) frame() *callFrame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() Value { return vm.stack[len(vm.stack)-1] }

// LocalsBase/GlobalsBase/StackBase expose the backing slices to the JIT
// engine (internal/jit), which converts locals and globals to int64
// buffers for compiled code and writes the slots a trace left live back
// into these slices.
func (vm *VM) LocalsBase() []Value  { return vm.locals }
func (vm *VM) GlobalsBase() []Value { return vm.globals }
func (vm *VM) StackBase() []Value   { return vm.stack }

// LoadedChunk returns the Chunk currently executing in the active frame -
// the recorder needs it to walk bytecode starting at a loop header.
func (vm *VM) LoadedChunk() *Chunk { return vm.frame().chunk }

// SetIP repositions the active frame's instruction pointer - used by the
// JIT engine to resume interpretation at a trace's deopt/exit point after
// running compiled code for some number of loop iterations.
func (vm *VM) SetIP(offset int) { vm.frame().ip = offset }

func (vm *VM) numericBinOp(op Op, a, b Value) (Value, error) {
	if a.IsInt() && b.IsInt() {
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case OpAdd, OpAddInt:
			return Int(x + y), nil
		case OpSub, OpSubInt:
			return Int(x - y), nil
		case OpMul, OpMulInt:
			return Int(x * y), nil
		case OpDiv, OpDivInt:
			if y == 0 {
				return Nil, errDivisionByZero
			}
			return Int(x / y), nil
		case OpMod, OpModInt:
			if y == 0 {
				return Nil, errDivisionByZero
			}
			return Int(x % y), nil
		}
	}

	x, y := a.AsNumber(), b.AsNumber()
	switch op {
	case OpAdd:
		return Double(x + y), nil
	case OpSub:
		return Double(x - y), nil
	case OpMul:
		return Double(x * y), nil
	case OpDiv:
		return Double(x / y), nil
	case OpMod:
		return Nil, errIllegalOperation
	}
	return Nil, errUnknownInstruction
}

func valuesEqual(a, b Value) bool {
	if a.IsInt() && b.IsInt() {
		return a.AsInt() == b.AsInt()
	}
	if a.Type() != b.Type() {
		if (a.IsInt() || a.IsDouble()) && (b.IsInt() || b.IsDouble()) {
			return a.AsNumber() == b.AsNumber()
		}
		return false
	}
	return uint64(a) == uint64(b)
}

func compareValues(a, b Value) int {
	x, y := a.AsNumber(), b.AsNumber()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Run executes until the program halts, finishes, or errors, driving the
// JIT hooks (if attached) at back edges and during recording.
func (vm *VM) Run() {
	defer vm.recoverCrash()
	for vm.errcode == nil {
		vm.step()
	}
	if vm.jit != nil {
		vm.jit.Cleanup()
	}
}

// Step executes exactly one instruction - used by the debugger.
func (vm *VM) Step() {
	defer vm.recoverCrash()
	vm.step()
}

func (vm *VM) recoverCrash() {
	if r := recover(); r != nil {
		if vm.errcode == nil {
			vm.errcode = errSegmentationFault
		}
	}
}

func (vm *VM) step() {
	vm.responseBus.drain(vm)

	f := vm.frame()
	code := f.chunk.Code
	if f.ip >= len(code) {
		vm.errcode = errProgramFinished
		return
	}

	offset := f.ip
	op := Op(code[f.ip])
	f.ip++

	if vm.jit != nil {
		vm.jit.RecordStep(vm, offset, op)
	}

	switch op {
	case OpNop:

	case OpConstant:
		idx := code[f.ip]
		f.ip++
		vm.push(f.chunk.Constants[idx])

	case OpTrue:
		vm.push(Bool(true))
	case OpFalse:
		vm.push(Bool(false))
	case OpNilVal:
		vm.push(Nil)
	case OpPop:
		vm.pop()
	case OpDup:
		n := int(code[f.ip])
		f.ip++
		vm.push(vm.stack[len(vm.stack)-1-n])

	case OpLoadLocal:
		slot := int(code[f.ip])
		f.ip++
		vm.push(vm.locals[f.localsBase+slot])
	case OpStoreLocal:
		slot := int(code[f.ip])
		f.ip++
		vm.locals[f.localsBase+slot] = vm.pop()

	case OpLoadGlobal:
		slot := code[f.ip]
		f.ip++
		vm.push(vm.globals[slot])
	case OpStoreGlobal:
		slot := code[f.ip]
		f.ip++
		vm.globals[slot] = vm.pop()

	case OpLoadUpvalue, OpStoreUpvalue:
		// Upvalue access is not implemented: both opcodes stop the VM with
		// errIllegalOperation.
		vm.errcode = errIllegalOperation

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		b, a := vm.pop(), vm.pop()
		result, err := vm.numericBinOp(op, a, b)
		if err != nil {
			vm.errcode = err
			return
		}
		vm.push(result)

	case OpAddInt, OpSubInt, OpMulInt, OpDivInt, OpModInt:
		b, a := vm.pop(), vm.pop()
		result, err := vm.numericBinOp(op, a, b)
		if err != nil {
			vm.errcode = err
			return
		}
		vm.push(result)

	case OpNeg:
		a := vm.pop()
		if a.IsInt() {
			vm.push(Int(-a.AsInt()))
		} else {
			vm.push(Double(-a.AsDouble()))
		}

	case OpNot:
		vm.push(Bool(!vm.pop().IsTruthy()))
	case OpAnd:
		b, a := vm.pop(), vm.pop()
		vm.push(Int(a.AsInt() & b.AsInt()))
	case OpOr:
		b, a := vm.pop(), vm.pop()
		vm.push(Int(a.AsInt() | b.AsInt()))
	case OpXor:
		b, a := vm.pop(), vm.pop()
		vm.push(Int(a.AsInt() ^ b.AsInt()))
	case OpShiftL:
		b, a := vm.pop(), vm.pop()
		vm.push(Int(a.AsInt() << uint(b.AsInt())))
	case OpShiftR:
		b, a := vm.pop(), vm.pop()
		vm.push(Int(a.AsInt() >> uint(b.AsInt())))

	case OpEq:
		b, a := vm.pop(), vm.pop()
		vm.push(Bool(valuesEqual(a, b)))
	case OpNotEq:
		b, a := vm.pop(), vm.pop()
		vm.push(Bool(!valuesEqual(a, b)))
	case OpLess:
		b, a := vm.pop(), vm.pop()
		vm.push(Bool(compareValues(a, b) < 0))
	case OpLessEq:
		b, a := vm.pop(), vm.pop()
		vm.push(Bool(compareValues(a, b) <= 0))
	case OpGreater:
		b, a := vm.pop(), vm.pop()
		vm.push(Bool(compareValues(a, b) > 0))
	case OpGreaterEq:
		b, a := vm.pop(), vm.pop()
		vm.push(Bool(compareValues(a, b) >= 0))

	case OpJmp:
		off := readU16(code, f.ip)
		f.ip += 2 + int(off)
	case OpJmpFalse:
		off := readU16(code, f.ip)
		f.ip += 2
		if !vm.pop().IsTruthy() {
			f.ip += int(off)
		}

	case OpLoop:
		back := readU16(code, f.ip)
		f.ip += 2
		target := f.ip - int(back)
		if vm.jit != nil && vm.jit.OnBackEdge(vm, target) {
			// JIT executed the loop body (possibly many iterations)
			// natively and already advanced vm state to the side-exit
			// point; vm.frame().ip reflects that new position.
			return
		}
		f.ip = target

	case OpForCount:
		counterSlot, endSlot, iterSlot := code[f.ip], code[f.ip+1], code[f.ip+2]
		exit := readU16(code, f.ip+3)
		f.ip += 5

		counter := vm.locals[f.localsBase+int(counterSlot)].AsInt()
		end := vm.locals[f.localsBase+int(endSlot)].AsInt()
		if counter >= end {
			f.ip += int(exit)
		} else {
			vm.locals[f.localsBase+int(iterSlot)] = Int(counter)
			vm.locals[f.localsBase+int(counterSlot)] = Int(counter + 1)
		}

	case OpForLoop:
		iterableSlot, iterSlot := code[f.ip], code[f.ip+1]
		exit := readU16(code, f.ip+2)
		f.ip += 4

		rangeVal := vm.locals[f.localsBase+int(iterableSlot)]
		obj := vm.heap.Get(rangeVal)
		r := obj.rng
		if r.Start >= r.End {
			f.ip += int(exit)
		} else {
			vm.locals[f.localsBase+int(iterSlot)] = Int(r.Start)
			r.Start += r.Step
		}

	case OpCall, OpTailCall:
		argc := int(code[f.ip])
		f.ip++
		vm.call(argc)

	case OpInvoke:
		f.ip += 2
		vm.errcode = errIllegalOperation

	case OpReturn:
		vm.ret()

	case OpNewArray:
		n := int(code[f.ip])
		f.ip++
		values := make([]Value, n)
		copy(values, vm.stack[len(vm.stack)-n:])
		vm.stack = vm.stack[:len(vm.stack)-n]
		vm.push(vm.heap.NewArray(values))

	case OpNewDict:
		vm.push(vm.heap.NewDict())

	case OpGetIndex:
		idx, target := vm.pop(), vm.pop()
		vm.push(vm.getIndex(target, idx))

	case OpSetIndex:
		val, idx, target := vm.pop(), vm.pop(), vm.pop()
		vm.setIndex(target, idx, val)

	case OpGetField:
		idx := code[f.ip]
		f.ip++
		target := vm.pop()
		name := vm.heap.Get(f.chunk.Constants[idx]).str.String()
		vm.push(vm.getIndex(target, vm.heap.NewString(name)))

	case OpSetField:
		idx := code[f.ip]
		f.ip++
		val, target := vm.pop(), vm.pop()
		name := vm.heap.Get(f.chunk.Constants[idx]).str.String()
		vm.setIndex(target, vm.heap.NewString(name), val)

	case OpLen:
		target := vm.pop()
		obj := vm.heap.Get(target)
		switch obj.kind {
		case ObjArray:
			vm.push(Int(int32(obj.arr.Len())))
		case ObjString:
			vm.push(Int(int32(obj.str.Len())))
		case ObjDict:
			vm.push(Int(int32(obj.dict.Len())))
		default:
			vm.errcode = errIllegalOperation
		}

	case OpPrint:
		v := vm.pop()
		fmt.Fprintln(vm.stdout, vm.formatValue(v))
		vm.stdout.Flush()

	case OpWrite:
		port, cmd := code[f.ip], code[f.ip+1]
		f.ip += 2
		dataVal := vm.pop()
		data := vm.valueToBytes(dataVal)
		if int(port) < numDevicePorts {
			vm.devices[port].TrySend(0, uint32(cmd), data)
		}

	case OpHalt:
		vm.errcode = errProgramFinished

	default:
		vm.errcode = errUnknownInstruction
	}
}

func (vm *VM) call(argc int) {
	callee := vm.stack[len(vm.stack)-1-argc]
	if !callee.IsObject() {
		vm.errcode = errIllegalOperation
		return
	}
	obj := vm.heap.Get(callee)
	if obj.kind != ObjFunction {
		vm.errcode = errIllegalOperation
		return
	}
	fn := obj.fn

	newBase := len(vm.locals)
	vm.locals = append(vm.locals, make([]Value, fn.NumLocals)...)
	for i := 0; i < argc; i++ {
		vm.locals[newBase+i] = vm.stack[len(vm.stack)-argc+i]
	}
	vm.stack = vm.stack[:len(vm.stack)-argc-1]

	vm.frames = append(vm.frames, callFrame{
		chunk:      vm.frame().chunk,
		ip:         fn.CodeStart,
		localsBase: newBase,
		stackBase:  len(vm.stack),
	})
}

func (vm *VM) ret() {
	var retVal Value = Nil
	if len(vm.stack) > vm.frame().stackBase {
		retVal = vm.pop()
	}
	finished := vm.frame()
	vm.locals = vm.locals[:finished.localsBase]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		vm.errcode = errProgramFinished
		return
	}
	vm.push(retVal)
}

func (vm *VM) getIndex(target, idx Value) Value {
	if !target.IsObject() {
		vm.errcode = errIllegalOperation
		return Nil
	}
	obj := vm.heap.Get(target)
	switch obj.kind {
	case ObjArray:
		return obj.arr.Get(int(idx.AsInt()))
	case ObjDict:
		key := vm.heap.Get(idx).str.String()
		v, ok := obj.dict.Get(key)
		if !ok {
			return Nil
		}
		return v
	default:
		vm.errcode = errIllegalOperation
		return Nil
	}
}

func (vm *VM) setIndex(target, idx, val Value) {
	if !target.IsObject() {
		vm.errcode = errIllegalOperation
		return
	}
	obj := vm.heap.Get(target)
	switch obj.kind {
	case ObjArray:
		obj.arr.Set(int(idx.AsInt()), val)
	case ObjDict:
		key := vm.heap.Get(idx).str.String()
		obj.dict.Set(key, val)
	default:
		vm.errcode = errIllegalOperation
	}
}

func (vm *VM) valueToBytes(v Value) []byte {
	if v.IsObject() {
		obj := vm.heap.Get(v)
		if obj.kind == ObjString {
			return obj.str.bytes
		}
		if obj.kind == ObjBytes {
			return obj.data
		}
	}
	b := make([]byte, 4)
	uint32ToBytes(uint32(v.AsInt()), b)
	return b
}

func (vm *VM) formatValue(v Value) string {
	switch v.Type() {
	case TypeNil:
		return "nil"
	case TypeBool:
		return fmt.Sprintf("%t", v.AsBool())
	case TypeInt:
		return fmt.Sprintf("%d", v.AsInt())
	case TypeDouble:
		return fmt.Sprintf("%g", v.AsDouble())
	default:
		obj := vm.heap.Get(v)
		switch obj.kind {
		case ObjString:
			return obj.str.String()
		case ObjArray:
			parts := make([]string, obj.arr.Len())
			for i := range parts {
				parts[i] = vm.formatValue(obj.arr.Get(i))
			}
			return "[" + strings.Join(parts, ", ") + "]"
		default:
			return fmt.Sprintf("<%s>", obj.kind)
		}
	}
}

func (vm *VM) printDebugOutput() {
	if vm.debugOut != nil {
		fmt.Println("  output>", vm.debugOut.String())
	}
}
