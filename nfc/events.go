package nfc

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// EventKind names a caller-visible event.
type EventKind string

const (
	EventSessionStarted    EventKind = "sessionStarted"
	EventTagDiscovered     EventKind = "tagDiscovered"
	EventCommandCompleted  EventKind = "commandCompleted"
	EventSessionEnded      EventKind = "sessionEnded"
	EventError             EventKind = "error"
	EventRadioStateChanged EventKind = "radioStateChanged"
	EventBackgroundTag     EventKind = "backgroundTag"
)

// CommandOutcome is the payload of EventCommandCompleted.
type CommandOutcome struct {
	ID     uint64
	Opcode Opcode
	Result *Result
	Err    *NFCError
}

// Event is one entry of the ordered event stream. Seq is assigned when the
// event is published and increases by one per event.
type Event struct {
	Seq     uint64
	Kind    EventKind
	Session string
	Time    time.Time

	Tag        *TagSummary     // TagDiscovered, BackgroundTag
	Command    *CommandOutcome // CommandCompleted
	Reason     EndReason       // SessionEnded
	Err        *NFCError       // Error
	RadioState RadioState      // RadioStateChanged
}

// PolicyKind selects how a subscriber queue behaves when its consumer lags.
type PolicyKind int

const (
	PolicyUnbounded PolicyKind = iota
	PolicyDropOldest
	PolicyDropNewest
)

// Policy is a subscriber backpressure policy.
type Policy struct {
	Kind PolicyKind
	Size int
}

func Unbounded() Policy          { return Policy{Kind: PolicyUnbounded} }
func DropOldest(size int) Policy { return Policy{Kind: PolicyDropOldest, Size: size} }
func DropNewest(size int) Policy { return Policy{Kind: PolicyDropNewest, Size: size} }

// ParsePolicy maps configuration names onto policies.
func ParsePolicy(name string, size int) (Policy, error) {
	switch name {
	case "", "unbounded":
		return Unbounded(), nil
	case "drop-oldest", "dropOldest":
		if size <= 0 {
			return Policy{}, NewInvalidArgumentError("ParsePolicy", "drop-oldest needs a positive buffer size")
		}
		return DropOldest(size), nil
	case "drop-newest", "dropNewest":
		if size <= 0 {
			return Policy{}, NewInvalidArgumentError("ParsePolicy", "drop-newest needs a positive buffer size")
		}
		return DropNewest(size), nil
	}
	return Policy{}, NewInvalidArgumentError("ParsePolicy", "unknown event policy %q", name)
}

type eventQueue interface {
	// push stores ev and returns how many events were discarded.
	push(ev Event) int
	pop() (Event, bool)
	empty() bool
}

type sliceQueue struct {
	mu    sync.Mutex
	items []Event
	limit int // 0 means unbounded
}

func (q *sliceQueue) push(ev Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return 1
	}
	q.items = append(q.items, ev)
	return 0
}

func (q *sliceQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return ev, true
}

// ringQueue keeps the newest size events. The ring is allocated with one
// spare slot, rounded up to a power of two, and trimmed to size on push.
type ringQueue struct {
	mu   sync.Mutex
	size uint32
	buf  mpmc.RichOverlappedRingBuffer[Event]
}

func newRingQueue(size int) *ringQueue {
	return &ringQueue{
		size: uint32(size),
		buf:  mpmc.NewOverlappedRingBuffer[Event](nextPow2(uint32(size) + 1)),
	}
}

func nextPow2(v uint32) uint32 {
	n := uint32(1)
	for n < v {
		n <<= 1
	}
	return n
}

func (q *ringQueue) push(ev Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := 0
	for q.buf.Size() >= q.size {
		if _, err := q.buf.Dequeue(); err != nil {
			break
		}
		dropped++
	}
	overwrites, err := q.buf.EnqueueM(ev)
	if err != nil {
		return dropped + 1
	}
	return dropped + int(overwrites)
}

func (q *sliceQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *ringQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.IsEmpty()
}

func (q *ringQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf.IsEmpty() {
		return Event{}, false
	}
	ev, err := q.buf.Dequeue()
	if err != nil {
		return Event{}, false
	}
	return ev, true
}

// Subscription is an ordered view of the event stream from the moment it
// was created.
type Subscription struct {
	C <-chan Event

	id      uint64
	bridge  *EventBridge
	queue   eventQueue
	out     chan Event
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns how many events the policy discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bridge.remove(s.id)
		close(s.quit)
		<-s.done
	})
}

func (s *Subscription) deliver(ev Event) {
	if n := s.queue.push(ev); n > 0 {
		s.dropped.Add(uint64(n))
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		for {
			ev, ok := s.queue.pop()
			if !ok {
				break
			}
			select {
			case s.out <- ev:
			case <-s.quit:
				return
			}
		}
		select {
		case <-s.wake:
		case <-s.quit:
			return
		}
	}
}

// EventBridge fans events out to subscribers without ever blocking the
// publisher.
type EventBridge struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    uint64
	clock  Clock
	log    logrus.FieldLogger
}

func NewEventBridge(clock Clock, log logrus.FieldLogger) *EventBridge {
	if clock == nil {
		clock = NewRealClock()
	}
	if log == nil {
		log = discardLogger()
	}
	return &EventBridge{
		subs:  make(map[uint64]*Subscription),
		clock: clock,
		log:   log,
	}
}

// Subscribe attaches a new subscriber with the given policy.
func (b *EventBridge) Subscribe(p Policy) *Subscription {
	var q eventQueue
	switch p.Kind {
	case PolicyDropOldest:
		q = newRingQueue(p.Size)
	case PolicyDropNewest:
		q = &sliceQueue{limit: p.Size}
	default:
		q = &sliceQueue{}
	}
	out := make(chan Event)
	s := &Subscription{
		C:     out,
		queue: q,
		out:   out,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	s.bridge = b
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.pump()
	return s
}

// Publish stamps ev with the next sequence number and queues it for every
// subscriber.
func (b *EventBridge) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = b.clock.Now()
	}
	for _, s := range b.subs {
		s.deliver(ev)
	}
	b.log.WithFields(logrus.Fields{"seq": ev.Seq, "event": ev.Kind, "session": ev.Session}).Debug("event")
	return ev
}

func (b *EventBridge) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Close detaches every subscriber.
func (b *EventBridge) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
