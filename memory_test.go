package nilsym_test

import (
	"testing"

	"github.com/benbjohnson/nilsym"
	"github.com/pkg/errors"
)

func TestMemory_ReadCopy(t *testing.T) {
	t.Run("Unbound", func(t *testing.T) {
		m, env := NewMemoryEnv()
		if _, err := m.ReadCopy(env, Local(1)); errors.Cause(err) != nilsym.ErrUnboundPlace {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		m, env := NewMemoryEnv()
		if _, err := m.ReadCopy(env, Local(10)); err == nil || err.Error() != `local out of range: _10` {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Deref", func(t *testing.T) {
		m, env := NewMemoryEnv()
		p := MustWriteFresh(t, m, env, Local(1))

		// Repeated reads in one node share the pointee and a single tag.
		a := MustReadCopy(t, m, env, Deref(1))
		b := MustReadCopy(t, m, env, Deref(1))
		if a != b {
			t.Fatalf("pointee changed: %s != %s", a, b)
		} else if got, exp := len(env.Graph.Declaration(p).DerefProperties()), 1; got != exp {
			t.Fatalf("len(tags)=%d, expected %d", got, exp)
		}

		// A read in another node adds a second tag.
		env.Node = 1
		if c := MustReadCopy(t, m, env, Deref(1)); c != a {
			t.Fatalf("pointee changed: %s != %s", c, a)
		} else if got, exp := len(env.Graph.Declaration(p).DerefProperties()), 2; got != exp {
			t.Fatalf("len(tags)=%d, expected %d", got, exp)
		}

		// Rebinding the pointer yields a new pointee.
		MustWriteFresh(t, m, env, Local(1))
		if d := MustReadCopy(t, m, env, Deref(1)); d == a {
			t.Fatal("expected new pointee")
		}
	})

	t.Run("ErrDerefNonPointer", func(t *testing.T) {
		m, env := NewMemoryEnv()
		MustWriteFresh(t, m, env, Local(2))
		if _, err := m.ReadCopy(env, Deref(2)); !nilsym.IsUnsupported(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMemory_ReadMove(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		m, env := NewMemoryEnv()
		name := MustWriteFresh(t, m, env, Local(2))

		if got, err := m.ReadMove(env, Local(2)); err != nil {
			t.Fatal(err)
		} else if got != name {
			t.Fatalf("name=%s, expected %s", got, name)
		}

		if _, err := m.ReadCopy(env, Local(2)); errors.Cause(err) != nilsym.ErrMovedPlace {
			t.Fatalf("unexpected error: %v", err)
		} else if _, ok := m.Lookup(0, 2); ok {
			t.Fatal("expected moved local to be hidden from lookup")
		}

		// Writing revalidates the place.
		fresh := MustWriteFresh(t, m, env, Local(2))
		if got := MustReadCopy(t, m, env, Local(2)); got != fresh {
			t.Fatalf("name=%s, expected %s", got, fresh)
		}
	})

	t.Run("Deref", func(t *testing.T) {
		m, env := NewMemoryEnv()
		MustWriteFresh(t, m, env, Local(1))
		if _, err := m.ReadMove(env, Deref(1)); err != nil {
			t.Fatal(err)
		} else if _, err := m.ReadCopy(env, Deref(1)); errors.Cause(err) != nilsym.ErrMovedPlace {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMemory_Ref(t *testing.T) {
	m, env := NewMemoryEnv()
	x := MustWriteFresh(t, m, env, Local(2))

	addr, isNew, err := m.Ref(env, Local(2))
	if err != nil {
		t.Fatal(err)
	} else if !isNew {
		t.Fatal("expected new address")
	} else if err := m.Bind(env, Local(3), addr); err != nil {
		t.Fatal(err)
	}

	// Reading through the address reads the local.
	if got := MustReadCopy(t, m, env, Deref(3)); got != x {
		t.Fatalf("*_3=%s, expected %s", got, x)
	}

	// Writing through the address updates the local.
	y := MustWriteFresh(t, m, env, Deref(3))
	if got, ok := m.Lookup(0, 2); !ok || got != y {
		t.Fatalf("_2=%s, expected %s", got, y)
	}

	// Taking the address of a dereference returns the pointer.
	if name, isNew, err := m.Ref(env, Deref(3)); err != nil {
		t.Fatal(err)
	} else if isNew || name != addr {
		t.Fatalf("unexpected ref: %s (new=%v)", name, isNew)
	}
}

func TestMemory_Ref_Realloc(t *testing.T) {
	m, env := NewMemoryEnv()
	a := MustWriteFresh(t, m, env, Local(2))
	addr, _, err := m.Ref(env, Local(2))
	if err != nil {
		t.Fatal(err)
	} else if err := m.Bind(env, Local(3), addr); err != nil {
		t.Fatal(err)
	}

	// Taking the address again returns the same address.
	if other, isNew, err := m.Ref(env, Local(2)); err != nil {
		t.Fatal(err)
	} else if isNew || other != addr {
		t.Fatalf("unexpected ref: %s (new=%v)", other, isNew)
	}

	// A new storage instance gets a new address and leaves the old object.
	m.Unbind(env, 2)
	b := MustWriteFresh(t, m, env, Local(2))
	if next, isNew, err := m.Ref(env, Local(2)); err != nil {
		t.Fatal(err)
	} else if !isNew || next == addr {
		t.Fatalf("unexpected ref: %s (new=%v)", next, isNew)
	} else if got := MustReadCopy(t, m, env, Local(2)); got != b {
		t.Fatalf("_2=%s, expected %s", got, b)
	} else if got := MustReadCopy(t, m, env, Deref(3)); got != a {
		t.Fatalf("*_3=%s, expected %s", got, a)
	}
}

func TestMemory_Fork(t *testing.T) {
	m, env := NewMemoryEnv()
	a := MustWriteFresh(t, m, env, Local(2))

	other := m.Fork()
	b := MustWriteFresh(t, other, env, Local(2))

	if got, _ := m.Lookup(0, 2); got != a {
		t.Fatalf("original=%s, expected %s", got, a)
	} else if got, _ := other.Lookup(0, 2); got != b {
		t.Fatalf("fork=%s, expected %s", got, b)
	}
}

func TestMemory_Drop(t *testing.T) {
	m, env := NewMemoryEnv()
	MustWriteFresh(t, m, env, Local(2))

	inner := &nilsym.MemoryEnv{Graph: env.Graph, Function: env.Function, Depth: 1}
	MustWriteFresh(t, m, inner, Local(1))
	MustWriteFresh(t, m, inner, Local(2))

	m.Drop(1)
	if _, ok := m.Lookup(1, 1); ok {
		t.Fatal("expected depth 1 to be dropped")
	} else if _, ok := m.Lookup(1, 2); ok {
		t.Fatal("expected depth 1 to be dropped")
	} else if _, ok := m.Lookup(0, 2); !ok {
		t.Fatal("expected depth 0 to remain")
	}
}

// NewMemoryEnv returns an empty memory for a function with locals:
//
//	_0: int, _1: *int, _2: int, _3: *int
func NewMemoryEnv() (*nilsym.Memory, *nilsym.MemoryEnv) {
	fn := &nilsym.Function{
		Name: "f",
		Locals: []*nilsym.Local{
			{Type: nilsym.IntType},
			{Name: "p", Type: nilsym.PointerTo(nilsym.IntType)},
			{Name: "x", Type: nilsym.IntType},
			{Name: "q", Type: nilsym.PointerTo(nilsym.IntType)},
		},
		ArgCount: 1,
	}
	return nilsym.NewMemory(), &nilsym.MemoryEnv{Graph: nilsym.NewGraph(), Function: fn}
}

// MustWriteFresh binds a new name to place. Fail on error.
func MustWriteFresh(tb testing.TB, m *nilsym.Memory, env *nilsym.MemoryEnv, place nilsym.Place) nilsym.Name {
	tb.Helper()
	name, err := m.WriteFresh(env, place)
	if err != nil {
		tb.Fatal(err)
	}
	return name
}

// MustReadCopy reads the name bound to place. Fail on error.
func MustReadCopy(tb testing.TB, m *nilsym.Memory, env *nilsym.MemoryEnv, place nilsym.Place) nilsym.Name {
	tb.Helper()
	name, err := m.ReadCopy(env, place)
	if err != nil {
		tb.Fatal(err)
	}
	return name
}
