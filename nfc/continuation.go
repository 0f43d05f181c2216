package nfc

import (
	"context"
	"errors"
)

// Restoration tells the host how a continued activity settled.
type Restoration struct {
	// Ready is set when the resumed session connected to a tag; otherwise
	// the session ended (Reason) or never started (Err).
	Ready   bool
	Session string
	Tag     *TagSummary
	Reason  EndReason
	Err     error
}

// RestoreFunc receives the restoration of a continued activity.
type RestoreFunc func(Restoration)

// ActivityContinuer is the optional host capability for routing a platform
// "continue activity" into the bridge. The manager checks for it once, in
// NewManager.
type ActivityContinuer interface {
	ContinuationSupported() bool
	// ActivityRestored is the restore callback used when ContinueActivity
	// is called without one.
	ActivityRestored(Restoration)
}

// Activity is a tag read that launched or resumed the host.
type Activity struct {
	Tag *RawTag
	// Launch marks the tag that launched the host; it is kept as the
	// launch tag as well as the background tag.
	Launch bool
	// Resume starts a session once the tag has been stored.
	Resume  bool
	Techs   TechSet
	Options SessionOptions
}

type restoreHook struct {
	fn    RestoreFunc
	fired bool
}

// fire invokes the hook at most once, off the strand so the host may call
// back into the manager.
func (h *restoreHook) fire(r Restoration) {
	if h == nil || h.fired || h.fn == nil {
		return
	}
	h.fired = true
	go h.fn(r)
}

// ContinuationSupported reports whether the host provided the capability.
func (m *Manager) ContinuationSupported() bool {
	return m.continuer != nil
}

// ContinueActivity stores the activity's tag as the background tag, emits
// BackgroundTag and, if asked, resumes with a new session. restore runs
// exactly once.
func (m *Manager) ContinueActivity(ctx context.Context, act Activity, restore RestoreFunc) error {
	const op = "ContinueActivity"
	if m.continuer == nil {
		return NewHardwareUnavailableError(op, errors.New("host cannot continue activities"))
	}
	if restore == nil {
		restore = m.continuer.ActivityRestored
	}
	hook := &restoreHook{fn: restore}

	var err error
	if derr := m.do(ctx, op, func() {
		var summary *TagSummary
		if act.Tag != nil {
			s := newTagHandle("background", 0, 0, *act.Tag).Summary()
			summary = &s
			m.background = summary
			if act.Launch {
				m.launch = summary
			}
			m.publish(Event{Kind: EventBackgroundTag, Tag: summary})
		}
		if !act.Resume {
			hook.fire(Restoration{Tag: summary})
			return
		}
		if _, err = m.startLocked(act.Techs, act.Options, hook); err != nil {
			hook.fire(Restoration{Tag: summary, Err: err})
		}
	}); derr != nil {
		return derr
	}
	return err
}

// LaunchTag returns the tag that launched the host, if any.
func (m *Manager) LaunchTag(ctx context.Context) (*TagSummary, error) {
	var out *TagSummary
	if err := m.do(ctx, "LaunchTag", func() {
		if m.launch != nil {
			cp := *m.launch
			out = &cp
		}
	}); err != nil {
		return nil, err
	}
	return out, nil
}
