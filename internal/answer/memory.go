package answer

import (
	"sync"

	"github.com/hsn0918/bookrag/pkg/clients/openai"
)

// Mode selects how a session answers: grounded retrieval or the bare model.
type Mode string

const (
	ModeRAG   Mode = "rag"
	ModePlain Mode = "plain"
)

// Turn is one utterance of the rolling dialogue.
type Turn struct {
	Role string
	Text string
}

// Memory is the bounded per-session dialogue history. Oldest turns are
// evicted first once capacity is exceeded. The mutex only guards the
// append-and-evict critical section; reads copy.
type Memory struct {
	mu       sync.Mutex
	turns    []Turn
	capacity int
}

const DefaultCapacity = 10

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{capacity: capacity}
}

// Append records a completed exchange and evicts the oldest turns beyond
// capacity.
func (m *Memory) Append(userText, assistantText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns,
		Turn{Role: openai.RoleUser, Text: userText},
		Turn{Role: openai.RoleAssistant, Text: assistantText},
	)
	if excess := len(m.turns) - m.capacity; excess > 0 {
		m.turns = append([]Turn(nil), m.turns[excess:]...)
	}
}

// Turns returns a snapshot of the dialogue, oldest first.
func (m *Memory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Clear drops the whole history.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}

// Len reports the stored turn count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// session binds a dialogue memory to its current chat mode.
type session struct {
	memory *Memory
	mode   Mode
}

// sessionStore hands out per-session state keyed by caller-provided ids.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	capacity int
}

func newSessionStore(capacity int) *sessionStore {
	return &sessionStore{sessions: make(map[string]*session), capacity: capacity}
}

// get returns the session for id, creating it in the requested mode. A mode
// switch on an existing session clears its memory.
func (s *sessionStore) get(id string, mode Mode) *session {
	if mode != ModePlain {
		mode = ModeRAG
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{memory: NewMemory(s.capacity), mode: mode}
		s.sessions[id] = sess
		return sess
	}
	if sess.mode != mode {
		sess.memory.Clear()
		sess.mode = mode
	}
	return sess
}

// clear wipes the memory of one session if it exists.
func (s *sessionStore) clear(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.memory.Clear()
	}
}
