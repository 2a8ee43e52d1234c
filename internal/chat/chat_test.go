package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/drivuber/internal/models"
)

type fakeTimer struct {
	f       func()
	delay   time.Duration
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{f: f, delay: d}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every scheduled callback, including stopped ones, to prove the
// simulator ignores stale replies on its own.
func (s *fakeScheduler) fire() {
	timers := s.timers
	s.timers = nil
	for _, t := range timers {
		t.f()
	}
}

type fixedPicker int

func (p fixedPicker) IntN(n int) int { return int(p) % n }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

var epoch = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newSim(sched *fakeScheduler, rec *recorder) *Simulator {
	return New(Options{
		ReplyDelay: 2 * time.Second,
		Scheduler:  sched,
		Picker:     fixedPicker(1),
		Notifier:   rec,
		Now:        func() time.Time { return epoch },
	})
}

func TestSeededThreads(t *testing.T) {
	s := newSim(&fakeScheduler{}, &recorder{})
	threads := s.Threads()
	require.Len(t, threads, 3)
	assert.Equal(t, "John Smith", threads[0].DriverName)
	assert.Equal(t, "I'll be there in 5 minutes", threads[0].LastMessage)
	assert.Equal(t, epoch.Add(-5*time.Minute), threads[0].Timestamp)
	require.Len(t, threads[2].Messages, 3)
	assert.Equal(t, "Hi! I'm Mike Wilson. How can I help you with your ride?", threads[2].Messages[0].Text)
}

func TestOpenSeedsGreetingOnce(t *testing.T) {
	s := newSim(&fakeScheduler{}, &recorder{})

	msgs := s.Open("Emily Davis", CategoryDriver)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi! I'm Emily Davis. How can I help you with your ride?", msgs[0].Text)
	assert.Equal(t, models.SenderDriver, msgs[0].Sender)
	assert.Equal(t, epoch.Add(-time.Minute), msgs[0].Timestamp)

	again := s.Open("Someone Else", CategoryGeneral)
	assert.Equal(t, msgs, again)
	assert.Equal(t, "Emily Davis", s.Counterpart())
}

func TestGeneralGreeting(t *testing.T) {
	s := newSim(&fakeScheduler{}, &recorder{})
	msgs := s.Open("Support", CategoryGeneral)
	assert.Equal(t, "Hi! I'm Support. How can I assist you today?", msgs[0].Text)
}

func TestSendAppendsAndRepliesAfterDelay(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	s := newSim(sched, rec)
	s.Open("Emily Davis", CategoryDriver)

	msg, err := s.Send("  See you at 9?  ")
	require.NoError(t, err)
	assert.Equal(t, "See you at 9?", msg.Text)
	assert.Equal(t, models.SenderUser, msg.Sender)
	assert.True(t, s.Typing())
	require.Len(t, sched.timers, 1)
	assert.Equal(t, 2*time.Second, sched.timers[0].delay)
	assert.Len(t, s.Messages(), 2)

	sched.fire()
	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Replies(CategoryDriver)[1], msgs[2].Text)
	assert.Equal(t, models.SenderDriver, msgs[2].Sender)
	assert.False(t, s.Typing())

	require.Len(t, rec.events, 4)
	assert.Equal(t, EventMessage, rec.events[0].Type)
	assert.Equal(t, Event{Type: EventTyping, Typing: true}, rec.events[1])
	assert.Equal(t, Event{Type: EventTyping, Typing: false}, rec.events[2])
	assert.Equal(t, msgs[2].ID, rec.events[3].Message.ID)
}

func TestGeneralRepliesUseTheirOwnPool(t *testing.T) {
	sched := &fakeScheduler{}
	s := newSim(sched, &recorder{})
	s.Open("Support", CategoryGeneral)
	_, err := s.Send("help")
	require.NoError(t, err)
	sched.fire()
	msgs := s.Messages()
	assert.Equal(t, Replies(CategoryGeneral)[1], msgs[len(msgs)-1].Text)
}

func TestSendRejectsBlankAndClosedConversations(t *testing.T) {
	s := newSim(&fakeScheduler{}, &recorder{})
	_, err := s.Send("hi")
	assert.ErrorIs(t, err, ErrNoConversation)

	s.Open("Emily Davis", CategoryDriver)
	_, err = s.Send("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	s.Close()
	_, err = s.Send("hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStaleRepliesAreDropped(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	s := newSim(sched, rec)
	s.Open("Emily Davis", CategoryDriver)
	_, err := s.Send("hello")
	require.NoError(t, err)

	s.Back()
	assert.True(t, sched.timers[0].stopped)
	msgs, err := s.OpenThread("2")
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	sched.fire()
	assert.Len(t, s.Messages(), 3, "reply for the abandoned conversation must not land here")
	assert.False(t, s.Typing())
}

func TestCloseCancelsPendingReplies(t *testing.T) {
	sched := &fakeScheduler{}
	s := newSim(sched, &recorder{})
	s.Open("Emily Davis", CategoryDriver)
	_, _ = s.Send("one")
	_, _ = s.Send("two")
	require.Len(t, sched.timers, 2)

	s.Close()
	for _, tm := range sched.timers {
		assert.True(t, tm.stopped)
	}
	sched.fire()
	assert.Empty(t, s.Messages())
}

func TestOpenThreadUnknown(t *testing.T) {
	s := newSim(&fakeScheduler{}, &recorder{})
	_, err := s.OpenThread("nope")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestPickerIsDeterministicForSeed(t *testing.T) {
	a, b := NewPicker(42), NewPicker(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.IntN(10), b.IntN(10))
	}
}

func TestRealSchedulerDeliversReply(t *testing.T) {
	done := make(chan Event, 4)
	s := New(Options{
		ReplyDelay: time.Millisecond,
		Picker:     fixedPicker(0),
		Notifier: NotifierFunc(func(e Event) {
			if e.Type == EventMessage && e.Message.Sender == models.SenderDriver {
				done <- e
			}
		}),
	})
	defer s.Close()
	s.Open("Emily Davis", CategoryDriver)
	_, err := s.Send("hi")
	require.NoError(t, err)

	select {
	case e := <-done:
		assert.Equal(t, Replies(CategoryDriver)[0], e.Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply delivered")
	}
}
