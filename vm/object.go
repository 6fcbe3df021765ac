package gvm

import (
	"hash/fnv"

	"github.com/dolthub/swiss"
)

// ObjectKind discriminates the heap-allocated variants described in spec §3.
type ObjectKind uint8

const (
	ObjString ObjectKind = iota
	ObjArray
	ObjDict
	ObjRange
	ObjFunction
	ObjClosure
	ObjBytes
)

func (k ObjectKind) String() string {
	switch k {
	case ObjString:
		return "string"
	case ObjArray:
		return "array"
	case ObjDict:
		return "dict"
	case ObjRange:
		return "range"
	case ObjFunction:
		return "function"
	case ObjClosure:
		return "closure"
	case ObjBytes:
		return "bytes"
	default:
		return "?unknown?"
	}
}

// Object is a tagged heap object. Objects form an intrusive linked list
// rooted at the VM's Heap (the `next` field); a handle into heap.objects is
// what gets NaN-boxed into a Value, so the slice - not the linked list - is
// what keeps the *Object reachable for Go's own collector. The spec treats
// the garbage collector as an external collaborator (§1): we rely on Go's
// GC for actual reclamation and only keep the intrusive list to mirror the
// shape the source runtime exposes to debuggers and the JIT's object-layout
// assumptions.
type Object struct {
	kind ObjectKind
	next *Object

	str  *StringObject
	arr  *ArrayObject
	dict *DictObject
	rng  *RangeObject
	fn   *FunctionObject
	clo  *ClosureObject
	data []byte
}

func (o *Object) Kind() ObjectKind { return o.kind }

// StringObject is immutable UTF-8 bytes plus a precomputed FNV-1a hash, so
// hashing into a DictObject never re-walks the bytes.
type StringObject struct {
	bytes []byte
	hash  uint32
}

func newStringObject(s string) *StringObject {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return &StringObject{bytes: []byte(s), hash: h.Sum32()}
}

func (s *StringObject) String() string { return string(s.bytes) }
func (s *StringObject) Hash() uint32   { return s.hash }
func (s *StringObject) Len() int       { return len(s.bytes) }

// ArrayObject is a growable Value vector. Go's slice already tracks
// len/cap, so growth is just append.
type ArrayObject struct {
	values []Value
}

func (a *ArrayObject) Len() int         { return len(a.values) }
func (a *ArrayObject) Get(i int) Value  { return a.values[i] }
func (a *ArrayObject) Set(i int, v Value) { a.values[i] = v }
func (a *ArrayObject) Push(v Value)     { a.values = append(a.values, v) }

// DictObject is an open-addressed string -> Value map, backed by a
// swiss-table implementation (grounded on mna/nenuphar's use of a
// swiss-table map for its interpreter's dynamic maps in the reference
// corpus) rather than a hand-rolled table: unlike the JIT's own hot-loop
// and trace-cache tables (internal/jit/detector), this dictionary's
// probing strategy and degradation behavior are not part of the spec's
// testable invariants, so there is nothing lost by delegating to a
// well-tested third-party implementation.
type DictObject struct {
	m *swiss.Map[string, Value]
}

func newDictObject() *DictObject {
	return &DictObject{m: swiss.NewMap[string, Value](8)}
}

func (d *DictObject) Get(key string) (Value, bool) { return d.m.Get(key) }
func (d *DictObject) Set(key string, v Value)      { d.m.Put(key, v) }
func (d *DictObject) Delete(key string)            { d.m.Delete(key) }
func (d *DictObject) Len() int                      { return d.m.Count() }

// RangeObject is a half-open [Start, End) integer range with a step.
type RangeObject struct {
	Start, End, Step int32
}

// FunctionObject describes a compiled function: its arity, the span of
// bytecode in the owning Chunk, and whether it is a candidate for the
// interpreter's call-site inlining helper (spec §6, "a runtime helper entry
// point for inlined function calls").
type FunctionObject struct {
	Name        string
	Arity       int
	CodeStart   int
	CodeEnd     int
	NumLocals   int
	Inlinable   bool
}

// ClosureObject pairs a function with its captured upvalues.
type ClosureObject struct {
	Fn       *FunctionObject
	Upvalues []Value
}

// Heap owns every Object allocated by the interpreter. The JIT never
// allocates heap objects (spec §3): only interpreter opcodes call into
// Heap's constructors.
type Heap struct {
	objects []*Object
	head    *Object
}

func newHeap() *Heap {
	return &Heap{}
}

func (h *Heap) root(o *Object) Value {
	o.next = h.head
	h.head = o
	idx := uint32(len(h.objects))
	h.objects = append(h.objects, o)
	return objectValue(idx)
}

// Get dereferences a Value known to be IsObject().
func (h *Heap) Get(v Value) *Object {
	return h.objects[v.objectIndex()]
}

func (h *Heap) NewString(s string) Value {
	return h.root(&Object{kind: ObjString, str: newStringObject(s)})
}

func (h *Heap) NewArray(values []Value) Value {
	return h.root(&Object{kind: ObjArray, arr: &ArrayObject{values: values}})
}

func (h *Heap) NewDict() Value {
	return h.root(&Object{kind: ObjDict, dict: newDictObject()})
}

func (h *Heap) NewRange(start, end, step int32) Value {
	return h.root(&Object{kind: ObjRange, rng: &RangeObject{Start: start, End: end, Step: step}})
}

func (h *Heap) NewFunction(fn *FunctionObject) Value {
	return h.root(&Object{kind: ObjFunction, fn: fn})
}

func (h *Heap) NewClosure(clo *ClosureObject) Value {
	return h.root(&Object{kind: ObjClosure, clo: clo})
}

func (h *Heap) NewBytes(b []byte) Value {
	return h.root(&Object{kind: ObjBytes, data: b})
}
