package server

import (
	"errors"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

func tagInfo(t nfc.TagSummary) protocol.TagInfo {
	techs := make([]string, len(t.TechTypes))
	for i, k := range t.TechTypes {
		techs[i] = string(k)
	}
	opcodes := make([]string, len(t.Capabilities.Opcodes))
	for i, op := range t.Capabilities.Opcodes {
		opcodes[i] = string(op)
	}
	return protocol.TagInfo{
		ID:        t.ID,
		UID:       t.UID,
		TechKind:  string(t.Kind),
		TechTypes: techs,
		Capabilities: protocol.CapabilitiesInfo{
			Writable:            t.Capabilities.Writable,
			CanMakeReadOnly:     t.Capabilities.CanMakeReadOnly,
			MaxNdefSize:         t.Capabilities.MaxNdefSize,
			MaxTransceiveLength: t.Capabilities.MaxTransceiveLength,
			ClassicSectors:      t.Capabilities.ClassicSectors,
			Family:              t.Capabilities.Family,
			Opcodes:             opcodes,
		},
		NdefMessage: t.Ndef,
	}
}

// errorInfo maps an error onto its wire form. Errors outside the nfc
// taxonomy are reported with the transport's internal error code.
func errorInfo(err error) *protocol.ErrorInfo {
	if err == nil {
		return nil
	}
	var nerr *nfc.NFCError
	if errors.As(err, &nerr) {
		return &protocol.ErrorInfo{Code: nerr.Code.String(), Message: nerr.Error()}
	}
	var perr *payloadError
	if errors.As(err, &perr) {
		return &protocol.ErrorInfo{Code: protocol.ErrCodeInvalidPayload, Message: err.Error()}
	}
	return &protocol.ErrorInfo{Code: protocol.ErrCodeInternalError, Message: err.Error()}
}

func commandResult(c *nfc.CommandOutcome) protocol.CommandResultInfo {
	out := protocol.CommandResultInfo{CommandID: c.ID, Opcode: string(c.Opcode)}
	if c.Err != nil {
		out.Error = errorInfo(c.Err)
	}
	if r := c.Result; r != nil {
		out.Data = r.Data
		out.StatusWord = r.StatusWord
		out.Value = r.Value
		if r.Ndef != nil {
			out.Ndef = &protocol.NdefStatusInfo{Status: int(r.Ndef.Status), Capacity: r.Ndef.Capacity}
		}
	}
	return out
}

func eventMessage(ev nfc.Event) protocol.EventMessage {
	msg := protocol.EventMessage{
		Type:    string(ev.Kind),
		Seq:     ev.Seq,
		Session: ev.Session,
		Time:    ev.Time,
	}
	switch ev.Kind {
	case nfc.EventSessionStarted:
		msg.Payload = protocol.SessionPayload{SessionID: ev.Session}
	case nfc.EventTagDiscovered, nfc.EventBackgroundTag:
		if ev.Tag != nil {
			msg.Payload = tagInfo(*ev.Tag)
		}
	case nfc.EventCommandCompleted:
		if ev.Command != nil {
			msg.Payload = commandResult(ev.Command)
		}
	case nfc.EventSessionEnded:
		msg.Payload = protocol.SessionEndedInfo{Reason: string(ev.Reason)}
	case nfc.EventError:
		if ev.Err != nil {
			msg.Payload = errorInfo(ev.Err)
		}
	case nfc.EventRadioStateChanged:
		msg.Payload = protocol.RadioStateInfo{State: string(ev.RadioState)}
	}
	return msg
}
