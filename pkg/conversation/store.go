// Package conversation keeps the client-side transcript: a list of
// conversations, newest first, each holding user and assistant
// messages. Conversations are created lazily when the first message
// of a new exchange arrives.
package conversation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the conversation id is unknown.
var ErrNotFound = errors.New("conversation: not found")

// titleLimit is how much of the first message becomes the title.
const titleLimit = 50

// Role identifies who authored a message.
type Role string

const (
	// RoleUser is the human speaker.
	RoleUser Role = "user"

	// RoleAssistant is the model response.
	RoleAssistant Role = "assistant"

	// RoleSystem is reserved for injected context messages.
	RoleSystem Role = "system"
)

// Message is one transcript entry.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Streaming bool

	// AudioID references the synthesized audio for an assistant
	// message, set once the TTS stream for that turn completes.
	AudioID string

	CreatedAt time.Time
}

// Conversation is an ordered exchange of messages.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// Store holds conversations and tracks which one is active.
// All methods are safe for concurrent use.
type Store struct {
	logger *slog.Logger

	mu       sync.Mutex
	order    []string // newest first
	byID     map[string]*Conversation
	activeID string
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger.With("component", "conversation"),
		byID:   make(map[string]*Conversation),
		now:    time.Now,
	}
}

// New creates an empty conversation, makes it active, and returns its id.
func (s *Store) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newLocked().ID
}

// Active returns a copy of the active conversation.
func (s *Store) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[s.activeID]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(c), true
}

// List returns copies of all conversations, newest first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyConversation(s.byID[id]))
	}
	return out
}

// Select makes the given conversation active.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	s.activeID = id
	return nil
}

// Rename sets a conversation's title.
func (s *Store) Rename(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = s.now()
	return nil
}

// Delete removes a conversation. Deleting the active one selects the
// first remaining conversation, or none if the list is empty.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
		if len(s.order) > 0 {
			s.activeID = s.order[0]
		}
	}
	s.logger.Debug("conversation deleted", "id", id, "active", s.activeID)
	return nil
}

// AppendUser adds a user message to the active conversation, creating
// one if needed. The first message of a fresh conversation sets its
// title.
func (s *Store) AppendUser(content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.activeLocked()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: s.now(),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	if c.Title == "" {
		c.Title = makeTitle(content)
	}
	return msg
}

// AppendAssistantChunk appends streamed response text. The first
// chunk creates a streaming assistant message; later chunks extend it.
// At most one message is streaming at any time.
func (s *Store) AppendAssistantChunk(chunk string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.activeLocked()
	if m := streamingLocked(c); m != nil {
		m.Content += chunk
		c.UpdatedAt = s.now()
		return *m
	}
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   chunk,
		Streaming: true,
		CreatedAt: s.now(),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return msg
}

// AppendAssistant adds a complete assistant message, for responses
// that arrive whole rather than as a chunk stream.
func (s *Store) AppendAssistant(content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.activeLocked()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: s.now(),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return msg
}

// FinalizeAssistant marks the streaming message complete. A non-empty
// fullResponse replaces the accumulated content, correcting any
// chunks lost in transit. Returns false if nothing was streaming.
func (s *Store) FinalizeAssistant(fullResponse string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[s.activeID]
	if !ok {
		return Message{}, false
	}
	m := streamingLocked(c)
	if m == nil {
		return Message{}, false
	}
	if fullResponse != "" {
		m.Content = fullResponse
	}
	m.Streaming = false
	c.UpdatedAt = s.now()
	return *m, true
}

// AttachAudio records the audio id on the most recent assistant
// message of the active conversation. Returns false when there is no
// assistant message to attach to.
func (s *Store) AttachAudio(audioID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[s.activeID]
	if !ok {
		return false
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			c.Messages[i].AudioID = audioID
			c.UpdatedAt = s.now()
			return true
		}
	}
	return false
}

// ClearStreaming drops the streaming flag without finalizing content,
// used when a response is interrupted or the connection drops.
func (s *Store) ClearStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[s.activeID]
	if !ok {
		return
	}
	if m := streamingLocked(c); m != nil {
		m.Streaming = false
	}
}

func (s *Store) newLocked() *Conversation {
	now := s.now()
	c := &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[c.ID] = c
	s.order = append([]string{c.ID}, s.order...)
	s.activeID = c.ID
	s.logger.Debug("conversation created", "id", c.ID)
	return c
}

// activeLocked returns the active conversation, creating one lazily.
func (s *Store) activeLocked() *Conversation {
	if c, ok := s.byID[s.activeID]; ok {
		return c
	}
	return s.newLocked()
}

func streamingLocked(c *Conversation) *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Streaming {
			return &c.Messages[i]
		}
	}
	return nil
}

func makeTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit]) + "..."
}

func copyConversation(c *Conversation) Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
