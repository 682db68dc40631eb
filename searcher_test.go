package nilsym_test

import (
	"math/rand"
	"testing"

	"github.com/benbjohnson/nilsym"
)

func TestDFSSearcher(t *testing.T) {
	s := nilsym.NewDFSSearcher()
	f0, f1, f2 := NewTestFrames()
	s.AddFrame(f0)
	s.AddFrame(f1)
	s.AddFrame(f2)

	for i, exp := range []*nilsym.Frame{f2, f1, f0, nil} {
		if got := s.SelectFrame(); got != exp {
			t.Fatalf("%d. unexpected frame", i)
		}
	}
}

func TestBFSSearcher(t *testing.T) {
	s := nilsym.NewBFSSearcher()
	f0, f1, f2 := NewTestFrames()
	s.AddFrame(f0)
	s.AddFrame(f1)
	s.AddFrame(f2)

	for i, exp := range []*nilsym.Frame{f0, f1, f2, nil} {
		if got := s.SelectFrame(); got != exp {
			t.Fatalf("%d. unexpected frame", i)
		}
	}
}

func TestRandomSearcher(t *testing.T) {
	s := nilsym.NewRandomSearcher(rand.New(rand.NewSource(0)))
	f0, f1, f2 := NewTestFrames()
	s.AddFrame(f0)
	s.AddFrame(f1)
	s.AddFrame(f2)

	// Every frame is selected exactly once.
	seen := make(map[*nilsym.Frame]bool)
	for i := 0; i < 3; i++ {
		f := s.SelectFrame()
		if f == nil || seen[f] {
			t.Fatalf("%d. unexpected frame", i)
		}
		seen[f] = true
	}
	if f := s.SelectFrame(); f != nil {
		t.Fatal("expected no frame")
	}
}

func TestMultiSearcher(t *testing.T) {
	s := nilsym.NewMultiSearcher(nilsym.NewDFSSearcher(), nilsym.NewBFSSearcher())
	f0, f1, f2 := NewTestFrames()
	s.AddFrame(f0) // dfs
	s.AddFrame(f1) // bfs
	s.AddFrame(f2) // dfs

	for i, exp := range []*nilsym.Frame{f2, f1, f0, nil} {
		if got := s.SelectFrame(); got != exp {
			t.Fatalf("%d. unexpected frame", i)
		}
	}
}

func TestNewSearcher(t *testing.T) {
	for _, name := range []string{"", "dfs", "bfs", "random", "dfs+bfs", "bfs+random"} {
		if s, err := nilsym.NewSearcher(name, 1); err != nil {
			t.Fatal(err)
		} else if s == nil {
			t.Fatalf("expected searcher for %q", name)
		}
	}
	if _, err := nilsym.NewSearcher("best", 0); err == nil || err.Error() != `unknown search strategy: "best"` {
		t.Fatalf("unexpected error: %v", err)
	}
	if s, err := nilsym.NewSearcher("dfs+bfs", 0); err != nil {
		t.Fatal(err)
	} else if _, ok := s.(*nilsym.MultiSearcher); !ok {
		t.Fatalf("unexpected searcher: %T", s)
	}
	if _, err := nilsym.NewSearcher("dfs+", 0); err == nil || err.Error() != `unknown search strategy: "dfs+"` {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := nilsym.NewSearcher("dfs+best", 0); err == nil || err.Error() != `unknown search strategy: "best"` {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestFrames returns three distinct root frames.
func NewTestFrames() (f0, f1, f2 *nilsym.Frame) {
	fn := UnguardedDerefFunction()
	return nilsym.NewFrame(fn, nilsym.NewMemory()),
		nilsym.NewFrame(fn, nilsym.NewMemory()),
		nilsym.NewFrame(fn, nilsym.NewMemory())
}
