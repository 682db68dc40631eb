package nilsym

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Frame represents one path under exploration.
//
// Frames are values: every successor receives its own copy of the call
// stack, memory snapshot and visit counts.
type Frame struct {
	id int

	// Call stack. The last entry is the executing function.
	stack []CallFrame

	// Symbolic memory for this path.
	memory *Memory

	// Guard this frame was spawned under and the node it links from.
	guard     Expr
	parent    NodeID
	hasParent bool

	// Per-location visit counts along this path.
	seen *immutable.SortedMap
}

// CallFrame represents an active function on a frame's call stack.
type CallFrame struct {
	Function *Function
	Block    int

	// Caller destination and resume block, for inlined calls.
	Dest *Place
	Next int
}

// NewFrame returns a new root frame at the first block of fn.
func NewFrame(fn *Function, memory *Memory) *Frame {
	return &Frame{
		stack:  []CallFrame{{Function: fn}},
		memory: memory,
		seen:   immutable.NewSortedMap(&stringComparer{}),
	}
}

// ID returns an autoincrementing ID assigned by the executor.
func (f *Frame) ID() int { return f.id }

// Function returns the executing function.
func (f *Frame) Function() *Function { return f.top().Function }

// Block returns the index of the block to execute.
func (f *Frame) Block() int { return f.top().Block }

// Depth returns the call depth of the executing function. The entry is 0.
func (f *Frame) Depth() int { return len(f.stack) - 1 }

// Memory returns the frame's memory snapshot.
func (f *Frame) Memory() *Memory { return f.memory }

// Guard returns the guard the frame was spawned under. Nil if unconditional.
func (f *Frame) Guard() Expr { return f.guard }

// Parent returns the node this frame's node is linked from, if any.
func (f *Frame) Parent() (NodeID, bool) { return f.parent, f.hasParent }

// Seen returns the number of times this path has executed a block.
func (f *Frame) Seen(fn *Function, block int) int {
	if v, ok := f.seen.Get(locationKey(fn, block)); ok {
		return v.(int)
	}
	return 0
}

// visit increments the visit count of the current location.
func (f *Frame) visit() {
	key := locationKey(f.Function(), f.Block())
	f.seen = f.seen.Set(key, f.Seen(f.Function(), f.Block())+1)
}

func (f *Frame) top() *CallFrame {
	assert(len(f.stack) > 0, "empty call stack")
	return &f.stack[len(f.stack)-1]
}

// fork returns a successor frame that continues at block, linked from
// parent under guard.
func (f *Frame) fork(block int, guard Expr, parent NodeID) *Frame {
	stack := make([]CallFrame, len(f.stack))
	copy(stack, f.stack)
	stack[len(stack)-1].Block = block

	return &Frame{
		stack:     stack,
		memory:    f.memory.Fork(),
		guard:     guard,
		parent:    parent,
		hasParent: true,
		seen:      f.seen,
	}
}

// push enters fn on top of the call stack.
func (f *Frame) push(fn *Function, dest *Place, next int) {
	f.stack = append(f.stack, CallFrame{Function: fn, Dest: dest, Next: next})
}

// pop leaves the executing function and returns its call frame.
func (f *Frame) pop() CallFrame {
	top := *f.top()
	f.stack = f.stack[:len(f.stack)-1]
	return top
}

// Dump returns a textual representation of the frame.
func (f *Frame) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "== FRAME %d\n", f.id)
	if f.guard != nil {
		fmt.Fprintf(&buf, "guard: %s\n", f.guard)
	}
	for i := len(f.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "at %s bb%d\n", f.stack[i].Function.Name, f.stack[i].Block)
	}
	buf.WriteString("== MEMORY\n")
	buf.WriteString(f.memory.Dump())
	return buf.String()
}

func locationKey(fn *Function, block int) string {
	return fmt.Sprintf("%s#%d", fn.Name, block)
}
