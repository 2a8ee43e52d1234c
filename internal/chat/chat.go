package chat

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/drivuber/internal/models"
	"github.com/example/drivuber/internal/observability"
)

type Category string

const (
	CategoryDriver  Category = "driver"
	CategoryGeneral Category = "general"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrThreadNotFound = errors.New("chat thread not found")
	ErrNoConversation = errors.New("no conversation is open")
	ErrClosed         = errors.New("chat closed")
)

// Timer is the handle of a scheduled reply.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Picker chooses a canned reply; *rand.Rand satisfies it.
type Picker interface {
	IntN(n int) int
}

// NewPicker returns a deterministic source for the given seed, or a randomly
// seeded one when seed is 0.
func NewPicker(seed uint64) Picker {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
)

type Event struct {
	Type    EventType           `json:"type"`
	Message *models.ChatMessage `json:"message,omitempty"`
	Typing  bool                `json:"typing"`
}

// Notifier observes every appended message and typing change.
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type Options struct {
	ReplyDelay time.Duration
	Scheduler  Scheduler
	Picker     Picker
	Notifier   Notifier
	Now        func() time.Time
}

// Simulator fakes a conversation with a driver or support agent. Nothing it
// holds outlives the process.
type Simulator struct {
	opts    Options
	threads []models.ChatThread

	mu          sync.Mutex
	counterpart string
	category    Category
	messages    []models.ChatMessage
	pending     map[uint64]Timer
	nextTimer   uint64
	generation  uint64
	closed      bool
}

func New(opts Options) *Simulator {
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Picker == nil {
		opts.Picker = NewPicker(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Simulator{
		opts:    opts,
		threads: seedThreads(opts.Now()),
		pending: make(map[uint64]Timer),
	}
}

// Threads lists the seeded conversation history.
func (s *Simulator) Threads() []models.ChatThread {
	out := make([]models.ChatThread, len(s.threads))
	for i, t := range s.threads {
		t.Messages = append([]models.ChatMessage(nil), t.Messages...)
		out[i] = t
	}
	return out
}

// Open starts a conversation with counterpart. A greeting is seeded only
// when no conversation is active; an active one is left untouched.
func (s *Simulator) Open(counterpart string, category Category) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.messages) > 0 {
		return s.snapshot()
	}
	if category != CategoryGeneral {
		category = CategoryDriver
	}
	s.counterpart, s.category = counterpart, category
	s.messages = []models.ChatMessage{{
		ID:        uuid.NewString(),
		Text:      greeting(counterpart, category),
		Sender:    models.SenderDriver,
		Timestamp: s.opts.Now().Add(-time.Minute),
	}}
	return s.snapshot()
}

// OpenThread switches to one of the seeded threads.
func (s *Simulator) OpenThread(id string) ([]models.ChatMessage, error) {
	for _, t := range s.threads {
		if t.ID != id {
			continue
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, ErrClosed
		}
		s.resetLocked()
		s.counterpart, s.category = t.DriverName, CategoryDriver
		s.messages = append([]models.ChatMessage(nil), t.Messages...)
		return s.snapshot(), nil
	}
	return nil, ErrThreadNotFound
}

// Back leaves the current conversation and drops replies still pending.
func (s *Simulator) Back() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Send appends the user's message at once and schedules a canned reply.
func (s *Simulator) Send(text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ChatMessage{}, ErrClosed
	}
	if s.counterpart == "" {
		s.mu.Unlock()
		return models.ChatMessage{}, ErrNoConversation
	}
	msg := models.ChatMessage{ID: uuid.NewString(), Text: text, Sender: models.SenderUser, Timestamp: s.opts.Now()}
	s.messages = append(s.messages, msg)

	gen := s.generation
	s.nextTimer++
	id := s.nextTimer
	category := s.category
	// registered under the lock so a reply firing early still finds its entry
	s.pending[id] = s.opts.Scheduler.AfterFunc(s.opts.ReplyDelay, func() { s.reply(gen, id, category) })
	s.mu.Unlock()

	observability.ChatMessages.WithLabelValues(string(models.SenderUser)).Inc()
	s.notify(Event{Type: EventMessage, Message: &msg})
	s.notify(Event{Type: EventTyping, Typing: true})
	return msg, nil
}

func (s *Simulator) reply(gen, id uint64, category Category) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok || s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	pool := replies[category]
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Text:      pool[s.opts.Picker.IntN(len(pool))],
		Sender:    models.SenderDriver,
		Timestamp: s.opts.Now(),
	}
	s.messages = append(s.messages, msg)
	typing := len(s.pending) > 0
	s.mu.Unlock()

	observability.ChatMessages.WithLabelValues(string(models.SenderDriver)).Inc()
	s.notify(Event{Type: EventTyping, Typing: typing})
	s.notify(Event{Type: EventMessage, Message: &msg})
}

func (s *Simulator) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Typing reports whether a reply is still pending.
func (s *Simulator) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *Simulator) Counterpart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Close cancels pending replies; later sends fail with ErrClosed.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.closed = true
}

func (s *Simulator) resetLocked() {
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	s.generation++
	s.messages = nil
	s.counterpart = ""
}

func (s *Simulator) snapshot() []models.ChatMessage {
	return append([]models.ChatMessage(nil), s.messages...)
}

func (s *Simulator) notify(e Event) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(e)
	}
}
