package transport

import (
	"sync"
	"time"
)

// SessionState is the explicit lifecycle of one swarm transfer. Every
// transition is a named state, not a race between timers.
type SessionState int

const (
	StateIdle SessionState = iota
	StateJoining
	StateSeeding
	StateDownloading
	StateStreaming
	StateDone
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateSeeding:
		return "seeding"
	case StateDownloading:
		return "downloading"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the bookkeeping for one unique transfer, shared by every
// caller streaming the same content regardless of locator spelling.
type Session struct {
	transferID string
	createdAt  time.Time

	mu        sync.Mutex
	state     SessionState
	seeding   bool
	peerCount int
	progress  float64
	err       error

	// fetching guards the single in-flight retrieval; attachers wait
	// on done instead of starting a second join.
	fetching bool
	done     chan struct{}

	// destroyed marks a forced teardown; an in-flight transfer must
	// fail rather than deliver.
	destroyed bool
}

func newSession(transferID string) *Session {
	return &Session{
		transferID: transferID,
		createdAt:  time.Now(),
		state:      StateIdle,
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setProgress(p float64, peers int) {
	s.mu.Lock()
	s.progress = p
	s.peerCount = peers
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	TransferID string
	State      SessionState
	Seeding    bool
	PeerCount  int
	Progress   float64
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		TransferID: s.transferID,
		State:      s.state,
		Seeding:    s.seeding,
		PeerCount:  s.peerCount,
		Progress:   s.progress,
	}
}
