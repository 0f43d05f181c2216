package nfc

import "github.com/sirupsen/logrus"

// sessionDelegate is handed to the radio for one session. Every callback
// becomes one closure on the manager strand, tagged with the generation of
// the session it was created for.
type sessionDelegate struct {
	m          *Manager
	generation uint64
}

func (d *sessionDelegate) SessionActive() {
	d.post("sessionActive", func(s *session) { d.m.onSessionActive(s) })
}

func (d *sessionDelegate) TagDetected(tag RawTag) {
	tag.UID = clone(tag.UID)
	tag.Ndef = clone(tag.Ndef)
	d.post("tagDetected", func(s *session) { d.m.onTagDetected(s, tag) })
}

func (d *sessionDelegate) TagLost() {
	d.post("tagLost", func(s *session) { d.m.onTagLost(s) })
}

func (d *sessionDelegate) CommandCompleted(id uint64, response []byte, err error) {
	response = clone(response)
	d.post("commandCompleted", func(s *session) { d.m.onCommandCompleted(s, id, response, err) })
}

func (d *sessionDelegate) SessionInvalidated(err error) {
	d.post("sessionInvalidated", func(s *session) { d.m.onSessionInvalidated(s, err) })
}

func (d *sessionDelegate) RadioError(err error) {
	d.post("radioError", func(s *session) { d.m.onRadioError(s, err) })
}

func (d *sessionDelegate) post(name string, fn func(*session)) {
	gen := d.generation
	m := d.m
	m.strand.Post(func() {
		s := m.session
		if s == nil || s.generation != gen {
			m.log.WithFields(logrus.Fields{"callback": name, "generation": gen}).Debug("dropping stale radio callback")
			return
		}
		// A cancel requested from outside the strand wins over anything the
		// radio reported after it.
		if s.cancelled.Load() {
			m.closeSession(s, TriggerCancel, EndCancelled, nil)
			return
		}
		fn(s)
	})
}
