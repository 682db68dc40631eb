package nilsym

import (
	"fmt"
	"math/rand"
	"strings"
)

// Searcher represents a strategy for finding the next frame to execute.
//
// The strategy only changes the order of exploration. Every scheduled
// frame is eventually selected.
type Searcher interface {
	// Returns the next frame to explore. Returns nil if none remain.
	SelectFrame() *Frame

	// Adds a frame to the current searcher.
	AddFrame(frame *Frame)
}

// NewSearcher returns a searcher by name: "dfs", "bfs" or "random". Names
// joined with "+", such as "dfs+bfs", alternate between those strategies.
func NewSearcher(name string, seed int64) (Searcher, error) {
	if strings.Contains(name, "+") {
		var searchers []Searcher
		for _, part := range strings.Split(name, "+") {
			if part == "" || strings.Contains(part, "+") {
				return nil, fmt.Errorf("unknown search strategy: %q", name)
			}
			s, err := NewSearcher(part, seed)
			if err != nil {
				return nil, err
			}
			searchers = append(searchers, s)
		}
		return NewMultiSearcher(searchers...), nil
	}

	switch name {
	case "", "dfs":
		return NewDFSSearcher(), nil
	case "bfs":
		return NewBFSSearcher(), nil
	case "random":
		return NewRandomSearcher(rand.New(rand.NewSource(seed))), nil
	default:
		return nil, fmt.Errorf("unknown search strategy: %q", name)
	}
}

var _ Searcher = (*MultiSearcher)(nil)

// MultiSearcher represents a Searcher that chooses a searcher round-robin.
// Each frame is added to only one searcher so that it is explored once.
type MultiSearcher struct {
	searchers []Searcher
	index     int
	add       int
}

// NewMultiSearcher returns a new instance of MultiSearcher.
func NewMultiSearcher(searchers ...Searcher) *MultiSearcher {
	return &MultiSearcher{searchers: searchers}
}

// SelectFrame returns the next frame from the next non-empty searcher.
func (s *MultiSearcher) SelectFrame() *Frame {
	for range s.searchers {
		searcher := s.searchers[s.index]
		if s.index++; s.index >= len(s.searchers) {
			s.index = 0
		}
		if frame := searcher.SelectFrame(); frame != nil {
			return frame
		}
	}
	return nil
}

// AddFrame adds a new frame to the next searcher.
func (s *MultiSearcher) AddFrame(frame *Frame) {
	s.searchers[s.add].AddFrame(frame)
	if s.add++; s.add >= len(s.searchers) {
		s.add = 0
	}
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	frames []*Frame
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectFrame returns the most recently added frame.
func (s *DFSSearcher) SelectFrame() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	frame := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return frame
}

// AddFrame adds a new frame to the searcher.
func (s *DFSSearcher) AddFrame(frame *Frame) {
	s.frames = append(s.frames, frame)
}

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	frames []*Frame
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectFrame returns the least recently added frame.
func (s *BFSSearcher) SelectFrame() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return frame
}

// AddFrame adds a new frame to the searcher.
func (s *BFSSearcher) AddFrame(frame *Frame) {
	s.frames = append(s.frames, frame)
}

type RandomSearcher struct {
	frames []*Frame
	rand   *rand.Rand
}

func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{
		rand: rand,
	}
}

// SelectFrame returns a random frame to explore.
func (s *RandomSearcher) SelectFrame() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.frames))
	frame := s.frames[i]
	s.frames = append(s.frames[:i], s.frames[i+1:]...)
	return frame
}

// AddFrame adds a new frame to the searcher.
func (s *RandomSearcher) AddFrame(frame *Frame) {
	s.frames = append(s.frames, frame)
}
