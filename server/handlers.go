package server

import (
	"context"
	"time"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Bridge is the session manager the websocket API drives. *nfc.Manager
// implements it.
type Bridge interface {
	StartSession(ctx context.Context, techs nfc.TechSet, opts nfc.SessionOptions) (string, error)
	CancelSession(ctx context.Context) error
	IssueCommand(ctx context.Context, op nfc.Opcode, payload []byte) (*nfc.PendingCommand, error)
	SetAlertMessage(ctx context.Context, msg string) error
	SetCommandTimeout(ctx context.Context, d time.Duration) error
	Tag(ctx context.Context) (nfc.TagSummary, error)
	BackgroundTag(ctx context.Context) (*nfc.TagSummary, error)
	ClearBackgroundTag(ctx context.Context) error
	RadioStatus() nfc.RadioStatus
	Phase() nfc.Phase
	Subscribe(p nfc.Policy) *nfc.Subscription
}

// SessionHandler maps session requests onto a Bridge.
type SessionHandler struct {
	bridge Bridge
}

func NewSessionHandler(bridge Bridge) *SessionHandler {
	return &SessionHandler{bridge: bridge}
}

// Register implements ServerHandler.
func (h *SessionHandler) Register(s HandlerServer) {
	routes := map[string]HandlerFunc{
		protocol.TypeStartSession:       h.startSession,
		protocol.TypeCancelSession:      h.cancelSession,
		protocol.TypeIssueCommand:       h.issueCommand,
		protocol.TypeSetAlertMessage:    h.setAlertMessage,
		protocol.TypeSetTimeout:         h.setTimeout,
		protocol.TypeGetTag:             h.getTag,
		protocol.TypeGetBackgroundTag:   h.getBackgroundTag,
		protocol.TypeClearBackgroundTag: h.clearBackgroundTag,
		protocol.TypeRadioStatus:        h.radioStatus,
	}
	for typ, fn := range routes {
		if err := s.Handle(typ, fn); err != nil {
			panic(err)
		}
	}
}

func (h *SessionHandler) startSession(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	var p protocol.StartSessionPayload
	if err := c.Decode(req, &p); err != nil {
		return nil, err
	}
	techs, err := nfc.ParseTechSet(p.Techs)
	if err != nil {
		return nil, err
	}
	opts := nfc.SessionOptions{
		AlertMessage:             p.AlertMessage,
		InvalidateAfterFirstRead: p.InvalidateAfterFirstRead,
		PollTimeout:              time.Duration(p.PollTimeoutMs) * time.Millisecond,
	}
	for _, name := range p.TechFilter {
		kind, err := nfc.ParseTechKind(name)
		if err != nil {
			return nil, err
		}
		opts.Techs = append(opts.Techs, kind)
	}

	id, err := h.bridge.StartSession(ctx, techs, opts)
	if err != nil {
		return nil, err
	}
	return protocol.SessionPayload{SessionID: id}, nil
}

func (h *SessionHandler) cancelSession(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	return nil, h.bridge.CancelSession(ctx)
}

func (h *SessionHandler) issueCommand(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	var p protocol.IssueCommandPayload
	if err := c.Decode(req, &p); err != nil {
		return nil, err
	}
	op, err := nfc.ParseOpcode(p.Opcode)
	if err != nil {
		return nil, err
	}
	cmd, err := h.bridge.IssueCommand(ctx, op, p.Data)
	if err != nil {
		return nil, err
	}
	return protocol.CommandPayload{CommandID: cmd.ID(), Opcode: string(cmd.Opcode())}, nil
}

func (h *SessionHandler) setAlertMessage(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	var p protocol.AlertMessagePayload
	if err := c.Decode(req, &p); err != nil {
		return nil, err
	}
	return nil, h.bridge.SetAlertMessage(ctx, p.Message)
}

func (h *SessionHandler) setTimeout(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	var p protocol.TimeoutPayload
	if err := c.Decode(req, &p); err != nil {
		return nil, err
	}
	if p.TimeoutMs <= 0 {
		return nil, nfc.NewInvalidArgumentError("setTimeout", "timeout must be positive, got %dms", p.TimeoutMs)
	}
	return nil, h.bridge.SetCommandTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
}

func (h *SessionHandler) getTag(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	tag, err := h.bridge.Tag(ctx)
	if err != nil {
		return nil, err
	}
	return tagInfo(tag), nil
}

// getBackgroundTag answers with a nil payload when no tag is stored.
func (h *SessionHandler) getBackgroundTag(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	tag, err := h.bridge.BackgroundTag(ctx)
	if err != nil || tag == nil {
		return nil, err
	}
	return tagInfo(*tag), nil
}

func (h *SessionHandler) clearBackgroundTag(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	return nil, h.bridge.ClearBackgroundTag(ctx)
}

func (h *SessionHandler) radioStatus(ctx context.Context, c *Client, req protocol.Request) (any, error) {
	return radioStatusInfo(h.bridge), nil
}

func radioStatusInfo(b Bridge) protocol.RadioStatusInfo {
	st := b.RadioStatus()
	return protocol.RadioStatusInfo{
		Name:      st.Name,
		Supported: st.Supported,
		Enabled:   st.Enabled,
		Phase:     b.Phase().String(),
	}
}
