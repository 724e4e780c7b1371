package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Transition is one ConnectionSession state change.
type Transition struct {
	At         time.Time       `json:"at"`
	Attempt    uint64          `json:"attempt"`
	Peripheral string          `json:"peripheral,omitempty"`
	From       ConnectionState `json:"from"`
	To         ConnectionState `json:"to"`
}

// Journal keeps the most recent transitions in an overlapped ring buffer:
// when full, the oldest entries are overwritten.
type Journal struct {
	mu          sync.Mutex
	buffer      mpmc.RichOverlappedRingBuffer[Transition]
	recorded    atomic.Uint64
	overwritten atomic.Uint64
}

// NewJournal creates a journal holding up to size transitions.
func NewJournal(size uint32) *Journal {
	if size == 0 {
		size = 1
	}
	return &Journal{
		buffer: mpmc.NewOverlappedRingBuffer[Transition](size),
	}
}

// Record appends a transition.
func (j *Journal) Record(t Transition) {
	overwrites, err := j.buffer.EnqueueM(t)
	if err != nil {
		return
	}
	j.recorded.Add(1)
	j.overwritten.Add(uint64(overwrites))
}

// Drain removes and returns the buffered transitions, oldest first.
func (j *Journal) Drain() []Transition {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Transition
	for !j.buffer.IsEmpty() {
		t, err := j.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, t)
	}
	return out
}

// Recorded returns how many transitions were recorded in total.
func (j *Journal) Recorded() uint64 {
	return j.recorded.Load()
}

// Overwritten returns how many transitions were lost to overflow.
func (j *Journal) Overwritten() uint64 {
	return j.overwritten.Load()
}
