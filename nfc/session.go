package nfc

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionOptions configures one session.
type SessionOptions struct {
	// AlertMessage is forwarded to radios that show a scan prompt.
	AlertMessage string
	// InvalidateAfterFirstRead ends an NDEF session right after the first
	// tag has been reported.
	InvalidateAfterFirstRead bool
	// PollTimeout ends the session if no tag shows up in time. Zero polls
	// until cancelled.
	PollTimeout time.Duration
	// Techs restricts discovery to tags exposing one of these technologies.
	Techs []TechKind
}

// Transition is reported to Options.OnTransition for every phase change.
type Transition struct {
	Session string
	From    Phase
	To      Phase
	Trigger Trigger
}

// Options configures a Manager.
type Options struct {
	Radio  Radio
	Logger logrus.FieldLogger
	Clock  Clock
	// CommandTimeout is the default bound for a single command.
	CommandTimeout time.Duration
	// Host is the embedding application. Optional capabilities such as
	// ActivityContinuer are detected once, here.
	Host interface{}
	// OnTransition observes phase changes. It runs on the strand and must
	// not call back into the Manager.
	OnTransition func(Transition)
}

type session struct {
	id         string
	generation uint64
	techs      TechSet
	opts       SessionOptions

	cancelled atomic.Bool
	active    bool
	ended     EndReason

	tag    *TagHandle
	tagSeq int

	dispatch dispatcher
	ctx      context.Context
	stop     context.CancelFunc
	restore  *restoreHook
}

// Manager owns the single active session and serializes every radio
// callback and caller request on one strand.
type Manager struct {
	radio        Radio
	log          logrus.FieldLogger
	clock        Clock
	strand       *strand
	events       *EventBridge
	onTransition func(Transition)
	continuer    ActivityContinuer
	waitsActive  bool

	phase   atomic.Int32
	current atomic.Pointer[session]
	closed  atomic.Bool

	// Owned by the strand.
	session        *session
	generation     uint64
	commandSeq     uint64
	commandTimeout time.Duration
	background     *TagSummary
	launch         *TagSummary
	radioState     RadioState
}

// NewManager builds a manager around a radio.
func NewManager(opts Options) *Manager {
	if opts.Radio == nil {
		opts.Radio = NoRadio{}
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = NewRealClock()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}

	m := &Manager{
		radio:          opts.Radio,
		log:            opts.Logger,
		clock:          opts.Clock,
		strand:         newStrand(),
		events:         NewEventBridge(opts.Clock, opts.Logger),
		onTransition:   opts.OnTransition,
		commandTimeout: opts.CommandTimeout,
		radioState:     RadioOn,
	}
	if c, ok := opts.Host.(ActivityContinuer); ok && c.ContinuationSupported() {
		m.continuer = c
	}
	if r, ok := opts.Radio.(ActiveReporter); ok {
		m.waitsActive = r.ReportsSessionActive()
	}
	if n, ok := opts.Radio.(RadioStateNotifier); ok {
		n.OnStateChange(m.radioStateChanged)
	}
	return m
}

// Phase returns the current phase. It may be read from any goroutine.
func (m *Manager) Phase() Phase {
	return Phase(m.phase.Load())
}

// Subscribe attaches an event subscriber.
func (m *Manager) Subscribe(p Policy) *Subscription {
	return m.events.Subscribe(p)
}

// RadioStatus reports the radio's own view of its availability.
func (m *Manager) RadioStatus() RadioStatus {
	return m.radio.Status()
}

// StartSession asks the radio to poll and returns the new session id.
func (m *Manager) StartSession(ctx context.Context, techs TechSet, opts SessionOptions) (string, error) {
	var id string
	var err error
	if derr := m.do(ctx, "StartSession", func() {
		id, err = m.startLocked(techs, opts, nil)
	}); derr != nil {
		return "", derr
	}
	return id, err
}

func (m *Manager) startLocked(techs TechSet, opts SessionOptions, restore *restoreHook) (string, error) {
	const op = "StartSession"
	if m.session != nil {
		return "", NewAlreadyActiveError(op)
	}
	if techs == "" {
		techs = TechSetTag
	}
	st := m.radio.Status()
	if !st.Supported || !st.Enabled {
		return "", NewHardwareUnavailableError(op, nil)
	}

	m.generation++
	ctx, stop := context.WithCancel(context.Background())
	s := &session{
		id:         uuid.NewString(),
		generation: m.generation,
		techs:      techs,
		opts:       opts,
		ctx:        ctx,
		stop:       stop,
		restore:    restore,
		dispatch: dispatcher{
			clock:   m.clock,
			timeout: m.commandTimeout,
			nextID:  &m.commandSeq,
		},
	}
	m.session = s
	m.current.Store(s)
	m.fire(s, TriggerStart)

	req := PollRequest{
		Session:                  s.id,
		Techs:                    techs,
		Filter:                   append([]TechKind(nil), opts.Techs...),
		AlertMessage:             opts.AlertMessage,
		InvalidateAfterFirstRead: opts.InvalidateAfterFirstRead,
	}
	if err := m.radio.BeginPolling(ctx, req, &sessionDelegate{m: m, generation: s.generation}); err != nil {
		// Nothing was announced yet, so unwind without events.
		m.fire(s, TriggerRadioError)
		m.fire(s, TriggerTeardown)
		m.teardown(s)
		if IsHardwareUnavailableError(err) {
			return "", err
		}
		return "", NewHardwareUnavailableError(op, err)
	}

	m.sessionLog(s).WithField("techs", techs).Info("session started")
	if !m.waitsActive {
		m.onSessionActive(s)
	}
	if opts.PollTimeout > 0 {
		m.armPollTimeout(s, opts.PollTimeout)
	}
	return s.id, nil
}

func (m *Manager) armPollTimeout(s *session, d time.Duration) {
	timer := m.clock.NewTimer(d)
	gen := s.generation
	go func() {
		select {
		case <-timer.C():
			m.strand.Post(func() {
				if m.session == nil || m.session.generation != gen {
					return
				}
				if m.Phase() == PhasePolling {
					m.closeSession(m.session, TriggerPollTimeout, EndTimeout, nil)
				}
			})
		case <-s.ctx.Done():
			timer.Stop()
		}
	}()
}

// CancelSession ends the active session. The cancellation flag is raised
// immediately so queued radio callbacks for the session are not applied.
func (m *Manager) CancelSession(ctx context.Context) error {
	target := m.current.Load()
	if target != nil {
		target.cancelled.Store(true)
	}
	var err error
	if derr := m.do(ctx, "CancelSession", func() {
		s := m.session
		if s == nil || (target != nil && s != target) {
			if target != nil && target.ended == EndCancelled {
				return
			}
			err = NewNoActiveSessionError("CancelSession")
			return
		}
		s.cancelled.Store(true)
		m.closeSession(s, TriggerCancel, EndCancelled, nil)
	}); derr != nil {
		return derr
	}
	return err
}

// IssueCommand validates and submits a command against the connected tag.
// Rejections are returned here and emit no event; an admitted command always
// produces exactly one CommandCompleted event.
func (m *Manager) IssueCommand(ctx context.Context, op Opcode, payload []byte) (*PendingCommand, error) {
	var p *PendingCommand
	var err error
	if derr := m.do(ctx, "IssueCommand", func() {
		p, err = m.issueLocked(op, payload)
	}); derr != nil {
		return nil, derr
	}
	return p, err
}

func (m *Manager) issueLocked(op Opcode, payload []byte) (*PendingCommand, error) {
	name := string(op)
	s := m.session
	if s != nil && s.cancelled.Load() {
		m.closeSession(s, TriggerCancel, EndCancelled, nil)
		return nil, NewCancelledError(name, nil)
	}
	switch m.Phase() {
	case PhaseCommandInFlight:
		return nil, NewBusyError(name)
	case PhaseTagConnected:
	default:
		return nil, NewNoTagError(name)
	}
	if s == nil || !s.tag.Valid() {
		return nil, NewNotConnectedError(name)
	}
	tag := s.tag

	if op.Local() {
		res, err := Answer(op, tag.caps)
		if err != nil {
			return nil, err
		}
		m.fire(s, TriggerIssueCommand)
		p := s.dispatch.admit(op, payload, m.commandTimeoutFunc(s))
		s.dispatch.takeAny()
		m.complete(s, p, CommandSucceeded, res, nil)
		return p, nil
	}

	frame, err := Encode(op, payload, tag.caps, tag.raw.UID)
	if err != nil {
		return nil, err
	}
	m.fire(s, TriggerIssueCommand)
	p := s.dispatch.admit(op, payload, m.commandTimeoutFunc(s))
	m.sessionLog(s).WithFields(logrus.Fields{"opcode": op, "seq": p.id}).Debug("command submitted")

	if err := m.radio.Submit(tag.ref(), p.id, frame); err != nil {
		s.dispatch.takeAny()
		m.complete(s, p, CommandFailed, Result{}, asNFCError(name, err))
	}
	return p, nil
}

// Execute issues a command and waits for its result.
func (m *Manager) Execute(ctx context.Context, op Opcode, payload []byte) (Result, error) {
	p, err := m.IssueCommand(ctx, op, payload)
	if err != nil {
		return Result{}, err
	}
	return p.Wait(ctx)
}

// Tag returns a snapshot of the connected tag.
func (m *Manager) Tag(ctx context.Context) (TagSummary, error) {
	var out TagSummary
	var err error
	if derr := m.do(ctx, "Tag", func() {
		if m.session == nil || !m.session.tag.Valid() {
			err = NewNotConnectedError("Tag")
			return
		}
		out = m.session.tag.Summary()
	}); derr != nil {
		return TagSummary{}, derr
	}
	return out, err
}

// SessionID returns the id of the active session, if any.
func (m *Manager) SessionID() (string, bool) {
	s := m.current.Load()
	if s == nil {
		return "", false
	}
	return s.id, true
}

// SetAlertMessage updates the scan prompt of the active session.
func (m *Manager) SetAlertMessage(ctx context.Context, msg string) error {
	var err error
	if derr := m.do(ctx, "SetAlertMessage", func() {
		if m.session == nil {
			err = NewNoActiveSessionError("SetAlertMessage")
			return
		}
		m.session.opts.AlertMessage = msg
		if rerr := m.radio.SetAlertMessage(msg); rerr != nil {
			err = asNFCError("SetAlertMessage", rerr)
		}
	}); derr != nil {
		return derr
	}
	return err
}

// SetCommandTimeout changes the command bound for the active session.
func (m *Manager) SetCommandTimeout(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return NewInvalidArgumentError("SetCommandTimeout", "timeout must be positive, got %s", d)
	}
	var err error
	if derr := m.do(ctx, "SetCommandTimeout", func() {
		if m.session == nil {
			err = NewNoActiveSessionError("SetCommandTimeout")
			return
		}
		m.session.dispatch.timeout = d
	}); derr != nil {
		return derr
	}
	return err
}

// BackgroundTag returns the tag stored by the last continued activity.
func (m *Manager) BackgroundTag(ctx context.Context) (*TagSummary, error) {
	var out *TagSummary
	if err := m.do(ctx, "BackgroundTag", func() {
		if m.background != nil {
			cp := *m.background
			out = &cp
		}
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) ClearBackgroundTag(ctx context.Context) error {
	return m.do(ctx, "ClearBackgroundTag", func() { m.background = nil })
}

// Close ends any session and stops the strand. The manager is unusable
// afterwards.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.strand.Post(func() {
		if s := m.session; s != nil {
			m.closeSession(s, TriggerCancel, EndShutdown, nil)
		}
	})
	m.strand.Stop()
	m.events.Close()
	return nil
}

// do runs fn on the strand and maps strand or context failures.
func (m *Manager) do(ctx context.Context, op string, fn func()) error {
	if m.closed.Load() {
		return NewHardwareUnavailableError(op, errors.New("manager closed"))
	}
	if err := m.strand.Do(ctx, fn); err != nil {
		var nerr *NFCError
		if errors.As(err, &nerr) {
			return nerr
		}
		return fromContext(op, err)
	}
	return nil
}

// fire applies a transition. Rejected pairs are logged and leave the phase
// unchanged.
func (m *Manager) fire(s *session, t Trigger) bool {
	from := m.Phase()
	to, ok := Next(from, t)
	if !ok {
		m.log.WithFields(logrus.Fields{"phase": from, "trigger": t}).Debug("transition rejected")
		return false
	}
	m.phase.Store(int32(to))
	id := ""
	if s != nil {
		id = s.id
	}
	m.log.WithFields(logrus.Fields{"session": id, "from": from, "to": to, "trigger": t}).Debug("transition")
	if m.onTransition != nil {
		m.onTransition(Transition{Session: id, From: from, To: to, Trigger: t})
	}
	return true
}

func (m *Manager) publish(ev Event) {
	m.events.Publish(ev)
}

func (m *Manager) sessionLog(s *session) logrus.FieldLogger {
	return m.log.WithField("session", s.id)
}

func (m *Manager) onSessionActive(s *session) {
	if s.active {
		return
	}
	s.active = true
	m.publish(Event{Kind: EventSessionStarted, Session: s.id})
}

func (m *Manager) onTagDetected(s *session, raw RawTag) {
	if m.Phase() != PhasePolling {
		m.sessionLog(s).WithField("phase", m.Phase()).Debug("ignoring tag while not polling")
		return
	}
	if len(s.opts.Techs) > 0 && !matchesFilter(raw, s.opts.Techs) {
		m.sessionLog(s).WithField("tech", raw.Kind).Debug("ignoring tag outside tech filter")
		return
	}
	if !s.active {
		m.onSessionActive(s)
	}
	m.fire(s, TriggerTagDetected)
	s.tagSeq++
	s.tag = newTagHandle(s.id, s.generation, s.tagSeq, raw)
	summary := s.tag.Summary()
	m.sessionLog(s).WithFields(logrus.Fields{"uid": summary.UID, "tech": summary.Kind}).Info("tag discovered")
	m.publish(Event{Kind: EventTagDiscovered, Session: s.id, Tag: &summary})
	s.restore.fire(Restoration{Ready: true, Session: s.id, Tag: &summary})

	if s.techs == TechSetNDEF && s.opts.InvalidateAfterFirstRead {
		m.closeSession(s, TriggerInvalidated, EndFirstRead, nil)
	}
}

func (m *Manager) onTagLost(s *session) {
	switch m.Phase() {
	case PhaseTagConnected, PhaseCommandInFlight:
		m.closeSession(s, TriggerTagLost, EndTagLost, nil)
	default:
		m.sessionLog(s).Debug("tag lost without connected tag")
	}
}

func (m *Manager) onSessionInvalidated(s *session, err error) {
	reason := EndInvalidated
	if err != nil && IsCancelledError(err) {
		reason = EndCancelled
		err = nil
	}
	m.closeSession(s, TriggerInvalidated, reason, err)
}

func (m *Manager) onRadioError(s *session, err error) {
	if err == nil {
		err = errors.New("unknown radio error")
	}
	m.closeSession(s, TriggerRadioError, EndRadioError, err)
}

func (m *Manager) onCommandCompleted(s *session, id uint64, resp []byte, err error) {
	p := s.dispatch.take(id)
	if p == nil {
		m.sessionLog(s).WithField("seq", id).Debug("completion for unknown command")
		return
	}
	name := string(p.opcode)
	if err != nil {
		m.complete(s, p, CommandFailed, Result{}, asNFCError(name, err))
		return
	}
	res, derr := Decode(p.opcode, resp)
	if derr != nil {
		m.complete(s, p, CommandFailed, Result{}, derr)
		return
	}
	if s.tag.Valid() {
		s.tag.caps = ApplyResult(p.opcode, s.tag.caps)
	}
	m.complete(s, p, CommandSucceeded, res, nil)
}

func (m *Manager) commandTimeoutFunc(s *session) func(uint64) {
	gen := s.generation
	return func(id uint64) {
		m.strand.Post(func() {
			cur := m.session
			if cur == nil || cur.generation != gen {
				return
			}
			p := cur.dispatch.take(id)
			if p == nil {
				return
			}
			m.sessionLog(cur).WithFields(logrus.Fields{"opcode": p.opcode, "seq": id}).Warn("command timed out")
			m.finish(cur, p, CommandTimedOut, Result{}, NewTimeoutError(string(p.opcode)))
			m.closeSession(cur, TriggerCommandTimeout, EndCommandTimeout, nil)
		})
	}
}

// complete resolves a command and moves the session back to TagConnected.
func (m *Manager) complete(s *session, p *PendingCommand, state CommandState, res Result, err error) {
	m.fire(s, TriggerResponse)
	m.finish(s, p, state, res, err)
}

// finish publishes CommandCompleted and resolves the waiter, in that order.
func (m *Manager) finish(s *session, p *PendingCommand, state CommandState, res Result, err error) {
	out := &CommandOutcome{ID: p.id, Opcode: p.opcode}
	if err != nil {
		out.Err = asNFCError(string(p.opcode), err)
		err = out.Err
	} else {
		r := res
		out.Result = &r
	}
	m.publish(Event{Kind: EventCommandCompleted, Session: s.id, Command: out})
	p.resolve(state, res, err)
}

// closeSession drives Closing and then Idle. Anything pending resolves as
// cancelled; radio-side errors are announced before SessionEnded.
func (m *Manager) closeSession(s *session, t Trigger, reason EndReason, cause error) {
	if m.session != s {
		return
	}
	if !m.fire(s, t) {
		return
	}
	log := m.sessionLog(s).WithField("reason", reason)

	if cause != nil {
		nerr := asNFCError("radio", cause)
		log.WithError(cause).Warn("session ended by radio")
		m.publish(Event{Kind: EventError, Session: s.id, Err: nerr})
	}
	if p := s.dispatch.takeAny(); p != nil {
		m.finish(s, p, CommandCancelled, Result{}, NewCancelledError(string(p.opcode), nil))
	}
	s.tag.invalidate()
	if err := m.radio.EndPolling(); err != nil {
		log.WithError(err).Debug("end polling")
	}
	s.ended = reason
	m.publish(Event{Kind: EventSessionEnded, Session: s.id, Reason: reason})
	log.Info("session ended")

	m.fire(s, TriggerTeardown)
	m.teardown(s)
	s.restore.fire(Restoration{Session: s.id, Reason: reason})
}

func (m *Manager) teardown(s *session) {
	s.stop()
	s.tag.invalidate()
	if m.session == s {
		m.session = nil
		m.current.CompareAndSwap(s, nil)
	}
	if m.Phase() != PhaseIdle {
		m.phase.Store(int32(PhaseIdle))
	}
}

func (m *Manager) radioStateChanged(st RadioState) {
	m.strand.Post(func() {
		if m.radioState == st {
			return
		}
		m.radioState = st
		m.log.WithField("state", st).Info("radio state changed")
		m.publish(Event{Kind: EventRadioStateChanged, RadioState: st})
		if s := m.session; s != nil && (st == RadioOff || st == RadioTurningOff) {
			m.closeSession(s, TriggerRadioError, EndRadioError, NewHardwareUnavailableError("radio", errors.New("radio switched off")))
		}
	})
}

func matchesFilter(raw RawTag, techs []TechKind) bool {
	for _, k := range techs {
		if raw.HasTech(k) {
			return true
		}
	}
	return false
}

func asNFCError(op string, err error) *NFCError {
	if err == nil {
		return nil
	}
	var nerr *NFCError
	if errors.As(err, &nerr) {
		return nerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fromContext(op, err)
	}
	return NewTransceiveError(op, err)
}
