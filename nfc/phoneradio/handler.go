package phoneradio

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
	"github.com/nedpals/davi-nfc-bridge/server"
)

// Handler handles all phone WebSocket connections.
type Handler struct {
	radio    *Radio
	version  string
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewHandler creates a handler feeding radio. version is reported to phones
// in the registration response.
func NewHandler(radio *Radio, version string) *Handler {
	return &Handler{
		radio:   radio,
		version: version,
		log:     radio.log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// Register implements server.ServerHandler interface.
// Registers a custom WebSocket handler for phone connections.
func (h *Handler) Register(s server.HandlerServer) {
	s.HandleWebSocket(IsDeviceConnection, func(w http.ResponseWriter, r *http.Request) bool {
		h.HandleWebSocket(w, r)
		return true
	})
}

// IsDeviceConnection determines if a request is from a phone radio.
func IsDeviceConnection(r *http.Request) bool {
	if r.Header.Get("X-Device-Mode") == ModeRadio {
		return true
	}
	return r.URL.Query().Get("mode") == ModeRadio
}

var errBadFrame = errors.New("invalid message format")

// connSender writes frames to one phone connection with the codec the
// phone connected with.
type connSender struct {
	conn  *websocket.Conn
	codec protocol.Codec
	mu    sync.Mutex
}

func (c *connSender) write(v any) error {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(frameType, data)
}

func (c *connSender) Send(msgType string, payload any) error {
	return c.write(protocol.Message{Type: msgType, Payload: payload})
}

func (c *connSender) Close() error { return c.conn.Close() }

func (c *connSender) read() (protocol.Request, error) {
	var req protocol.Request
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return req, err
	}
	if err := c.codec.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return req, nil
}

// sendError sends an error response to a phone.
func (c *connSender) sendError(log logrus.FieldLogger, requestID, code, message string) {
	err := c.write(protocol.Response{
		ID:      requestID,
		Type:    protocol.DeviceError,
		Success: false,
		Error:   message,
		Code:    code,
	})
	if err != nil {
		log.WithError(err).Debug("failed to send error response")
	}
}

// HandleWebSocket serves one phone for the lifetime of its connection.
// The first message must be a registration.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	codec, err := protocol.CodecFor(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	log := h.log.WithField("remote", r.RemoteAddr)
	log.Debug("phone connected")

	sender := &connSender{conn: conn, codec: codec}
	defer conn.Close()

	req, err := sender.read()
	if err != nil {
		log.WithError(err).Warn("failed to read registration message")
		sender.sendError(log, "", protocol.ErrCodeInvalidRequest, "Failed to read registration message")
		return
	}
	if req.Type != protocol.DeviceRegister {
		sender.sendError(log, req.ID, protocol.ErrCodeInvalidRequest, fmt.Sprintf("Expected '%s' message", protocol.DeviceRegister))
		return
	}

	dev, err := h.register(sender, req)
	if err != nil {
		log.WithError(err).Warn("registration failed")
		return
	}
	defer func() {
		_ = h.radio.Unregister(dev.id)
	}()
	log = log.WithField("device", dev.id)

	for {
		req, err := sender.read()
		if err != nil {
			if errors.Is(err, errBadFrame) {
				sender.sendError(log, "", protocol.ErrCodeInvalidPayload, "Invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("phone connection lost")
			}
			return
		}
		dev.touch(h.radio.clock.Now())
		if err := h.route(dev, codec, req); err != nil {
			log.WithError(err).WithField("type", req.Type).Warn("phone message rejected")
			sender.sendError(log, req.ID, protocol.ErrCodeInvalidPayload, err.Error())
		}
	}
}

func (h *Handler) register(sender *connSender, req protocol.Request) (*Device, error) {
	var reg protocol.DeviceRegistrationRequest
	if err := protocol.DecodePayload(sender.codec, req.Payload, &reg); err != nil {
		sender.sendError(h.log, req.ID, protocol.ErrCodeInvalidPayload, "Invalid registration request format")
		return nil, err
	}
	dev, err := h.radio.Register(reg, sender)
	if err != nil {
		sender.sendError(h.log, req.ID, protocol.ErrCodeInvalidRequest, err.Error())
		return nil, err
	}

	opcodes := nfc.Opcodes()
	names := make([]string, len(opcodes))
	for i, op := range opcodes {
		names[i] = string(op)
	}
	err = sender.write(protocol.Response{
		ID:      req.ID,
		Type:    protocol.DeviceRegisterResponse,
		Success: true,
		Payload: protocol.DeviceRegistrationResponse{
			DeviceID:   dev.id,
			ServerInfo: protocol.ServerInfo{Version: h.version, Opcodes: names},
		},
	})
	if err != nil {
		_ = h.radio.Unregister(dev.id)
		return nil, fmt.Errorf("failed to send registration response: %w", err)
	}
	return dev, nil
}

// route dispatches one phone message to the radio.
func (h *Handler) route(dev *Device, codec protocol.Codec, req protocol.Request) error {
	switch req.Type {
	case protocol.DeviceHeartbeat:
		return h.radio.Heartbeat(dev.id)

	case protocol.DeviceSessionActive:
		var p protocol.DeviceSessionPayload
		if err := protocol.DecodePayload(codec, req.Payload, &p); err != nil {
			return err
		}
		h.radio.sessionActive(dev, p)

	case protocol.DeviceTagScanned:
		var data protocol.DeviceTagData
		if err := protocol.DecodePayload(codec, req.Payload, &data); err != nil {
			return err
		}
		return h.radio.tagScanned(dev, data)

	case protocol.DeviceTagRemoved:
		var data protocol.DeviceTagRemovedData
		if err := protocol.DecodePayload(codec, req.Payload, &data); err != nil {
			return err
		}
		h.radio.tagRemoved(dev, data)

	case protocol.DeviceCommandResult:
		var res protocol.DeviceCommandResultData
		if err := protocol.DecodePayload(codec, req.Payload, &res); err != nil {
			return err
		}
		h.radio.commandResult(dev, res)

	case protocol.DeviceSessionInvalidated:
		var p protocol.DeviceSessionPayload
		if err := protocol.DecodePayload(codec, req.Payload, &p); err != nil {
			return err
		}
		h.radio.sessionInvalidated(dev, p)

	case protocol.DeviceRadioState:
		var p protocol.DeviceRadioStatePayload
		if err := protocol.DecodePayload(codec, req.Payload, &p); err != nil {
			return err
		}
		st, err := parseRadioState(p.State)
		if err != nil {
			return err
		}
		h.radio.radioState(dev, st)

	case protocol.DeviceActivity:
		var p protocol.DeviceActivityPayload
		if err := protocol.DecodePayload(codec, req.Payload, &p); err != nil {
			return err
		}
		return h.radio.activity(dev, p)

	default:
		return fmt.Errorf("unknown message type: %s", req.Type)
	}
	return nil
}

func parseRadioState(s string) (nfc.RadioState, error) {
	switch st := nfc.RadioState(s); st {
	case nfc.RadioOff, nfc.RadioTurningOn, nfc.RadioOn, nfc.RadioTurningOff:
		return st, nil
	}
	return "", fmt.Errorf("unknown radio state: %s", s)
}
