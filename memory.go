package nilsym

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// Memory maps storage locations to the names holding their current values.
//
// Memory is persistent: every mutation replaces the underlying maps, so
// Fork is a constant-time snapshot and forked copies evolve independently.
type Memory struct {
	// Local slots keyed by slotKey(depth, local).
	locals *immutable.SortedMap

	// Values behind pointers, keyed by the pointer's name.
	derefs *immutable.SortedMap

	// Addresses of locals whose address has been taken, keyed by slot.
	// The value of an addressed local lives in derefs under its address so
	// that a new storage instance of the slot leaves older addresses intact.
	addrs *immutable.SortedMap
}

// binding is the value stored in locals and derefs.
type binding struct {
	name  Name
	moved bool
}

// NewMemory returns a new, empty instance of Memory.
func NewMemory() *Memory {
	return &Memory{
		locals: immutable.NewSortedMap(&uint64Comparer{}),
		derefs: immutable.NewSortedMap(&uint64Comparer{}),
		addrs:  immutable.NewSortedMap(&uint64Comparer{}),
	}
}

// MemoryEnv is the context that memory operations run within.
type MemoryEnv struct {
	Graph    *Graph
	Function *Function
	Depth    int    // call depth of Function
	Node     NodeID // node currently being built
	Span     Span   // statement being executed
}

// Fork returns an independent copy of the memory.
func (m *Memory) Fork() *Memory {
	other := *m
	return &other
}

// Bind overwrites the name bound to place.
func (m *Memory) Bind(env *MemoryEnv, place Place, name Name) error {
	loc, err := m.resolve(env, place)
	if err != nil {
		return err
	}
	m.set(loc, binding{name: name})
	return nil
}

// Lookup returns the name bound to a local without side effects.
func (m *Memory) Lookup(depth, local int) (Name, bool) {
	loc := location{slot: slotKey(depth, local)}
	if addr, ok := m.addrs.Get(loc.slot); ok {
		loc = location{ptr: addr.(Name), indirect: true}
	}
	b, ok := m.get(loc)
	if !ok || b.moved {
		return 0, false
	}
	return b.name, true
}

// ReadCopy returns the name currently bound to place.
//
// Reading through a dereference tags the pointer's declaration as
// dereferenced at the current node and lazily materializes the pointee.
func (m *Memory) ReadCopy(env *MemoryEnv, place Place) (Name, error) {
	loc, err := m.resolve(env, place)
	if err != nil {
		return 0, err
	}

	if b, ok := m.get(loc); ok {
		if b.moved {
			return 0, errors.Wrapf(ErrMovedPlace, "read %s", place)
		}
		return b.name, nil
	} else if place.IsLocal() {
		return 0, errors.Wrapf(ErrUnboundPlace, "read %s", place)
	}

	// Materialize the value behind the pointer on first read.
	sort, err := m.placeSort(env, place)
	if err != nil {
		return 0, err
	}
	name := env.Graph.Declare(sort, nil)
	m.set(loc, binding{name: name})
	return name, nil
}

// ReadMove reads place and then invalidates it. Subsequent reads of the
// same place return ErrMovedPlace until it is written again.
func (m *Memory) ReadMove(env *MemoryEnv, place Place) (Name, error) {
	name, err := m.ReadCopy(env, place)
	if err != nil {
		return 0, err
	}

	loc, err := m.resolve(env, place)
	if err != nil {
		return 0, err
	}
	m.set(loc, binding{name: name, moved: true})
	return name, nil
}

// WriteFresh allocates a new name for place and binds it.
func (m *Memory) WriteFresh(env *MemoryEnv, place Place) (Name, error) {
	sort, err := m.placeSort(env, place)
	if err != nil {
		return 0, err
	}
	loc, err := m.resolve(env, place)
	if err != nil {
		return 0, err
	}

	name := env.Graph.Declare(sort, nil)
	m.set(loc, binding{name: name})
	return name, nil
}

// Unbind ends the current storage of a local. Addresses taken earlier keep
// referring to the old value.
func (m *Memory) Unbind(env *MemoryEnv, local int) {
	key := slotKey(env.Depth, local)
	m.locals = m.locals.Delete(key)
	m.addrs = m.addrs.Delete(key)
}

// Ref returns the name holding the address of place.
//
// The first address taken of a local storage instance allocates a new
// address name and returns true for isNew; the caller must assert that the
// address is non-zero. Later refs of the same instance return the same name.
// Taking the address of a dereference returns the pointer itself.
func (m *Memory) Ref(env *MemoryEnv, place Place) (name Name, isNew bool, err error) {
	if !place.IsLocal() {
		name, err := m.ReadCopy(env, place.Base())
		return name, false, err
	}

	if env.Function.Local(place.Local) == nil {
		return 0, false, fmt.Errorf("local out of range: %s", place)
	}
	key := slotKey(env.Depth, place.Local)
	if v, ok := m.addrs.Get(key); ok {
		return v.(Name), false, nil
	}

	// Move the current value behind the new address.
	name = env.Graph.Declare(SortInt, nil)
	if v, ok := m.locals.Get(key); ok {
		m.derefs = m.derefs.Set(uint64(name), v)
		m.locals = m.locals.Delete(key)
	}
	m.addrs = m.addrs.Set(key, name)
	return name, true, nil
}

// Drop removes all local bindings at the given call depth. Values of
// addressed locals stay reachable through their addresses.
func (m *Memory) Drop(depth int) {
	m.locals = dropDepth(m.locals, depth)
	m.addrs = dropDepth(m.addrs, depth)
}

func dropDepth(sm *immutable.SortedMap, depth int) *immutable.SortedMap {
	itr := sm.Iterator()
	itr.Seek(slotKey(depth, 0))
	for !itr.Done() {
		k, _ := itr.Next()
		key := k.(uint64)
		if int(key>>32) != depth {
			break
		}
		sm = sm.Delete(key)
	}
	return sm
}

// Dump returns a textual representation of the memory.
func (m *Memory) Dump() string {
	var buf bytes.Buffer
	itr := m.locals.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		key, b := k.(uint64), v.(binding)
		fmt.Fprintf(&buf, "%d:_%d = %s", key>>32, key&0xFFFFFFFF, b.name)
		if b.moved {
			buf.WriteString(" (moved)")
		}
		buf.WriteString("\n")
	}

	itr = m.addrs.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		key := k.(uint64)
		fmt.Fprintf(&buf, "%d:&_%d = %s\n", key>>32, key&0xFFFFFFFF, v.(Name))
	}

	itr = m.derefs.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "*%s = %s\n", Name(k.(uint64)), v.(binding).name)
	}
	return buf.String()
}

// location is a resolved place: either a local slot or the value behind a pointer.
type location struct {
	slot     uint64
	ptr      Name
	indirect bool
}

// resolve returns the storage location of place. Each dereference along the
// way reads the pointer and tags it as dereferenced at env.Node.
func (m *Memory) resolve(env *MemoryEnv, place Place) (location, error) {
	if place.IsLocal() {
		if env.Function.Local(place.Local) == nil {
			return location{}, fmt.Errorf("local out of range: %s", place)
		}
		key := slotKey(env.Depth, place.Local)
		if addr, ok := m.addrs.Get(key); ok {
			return location{ptr: addr.(Name), indirect: true}, nil
		}
		return location{slot: key}, nil
	}

	ptr, err := m.ReadCopy(env, place.Base())
	if err != nil {
		return location{}, err
	}

	if decl := env.Graph.Declaration(ptr); !decl.IsDerefedAt(env.Node) {
		env.Graph.AddPropertyToDeclaration(ptr, &DerefProperty{Node: env.Node, Span: env.Span})
	}
	return location{ptr: ptr, indirect: true}, nil
}

func (m *Memory) get(loc location) (binding, bool) {
	var v interface{}
	var ok bool
	if loc.indirect {
		v, ok = m.derefs.Get(uint64(loc.ptr))
	} else {
		v, ok = m.locals.Get(loc.slot)
	}
	if !ok {
		return binding{}, false
	}
	return v.(binding), true
}

func (m *Memory) set(loc location, b binding) {
	if loc.indirect {
		m.derefs = m.derefs.Set(uint64(loc.ptr), b)
	} else {
		m.locals = m.locals.Set(loc.slot, b)
	}
}

func (m *Memory) placeSort(env *MemoryEnv, place Place) (Sort, error) {
	typ, err := env.Function.PlaceType(place)
	if err != nil {
		return 0, err
	}
	return typ.Sort()
}

// slotKey returns the memory key for a local at a given call depth.
func slotKey(depth, local int) uint64 {
	return uint64(depth)<<32 | uint64(uint32(local))
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	if i, j := a.(string), b.(string); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
