package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Client is one caller connected on /ws. Every client has its own event
// subscription, so a slow client only ever loses its own events.
type Client struct {
	id     uint64
	conn   *websocket.Conn
	codec  protocol.Codec
	remote string
	sub    *nfc.Subscription
	log    logrus.FieldLogger

	mu     sync.Mutex // serializes writes
	closed bool
}

func (c *Client) ID() uint64            { return c.id }
func (c *Client) Codec() protocol.Codec { return c.codec }
func (c *Client) RemoteAddr() string    { return c.remote }

// Decode reads a request payload into v.
func (c *Client) Decode(req protocol.Request, v any) error {
	if err := protocol.DecodePayload(c.codec, req.Payload, v); err != nil {
		return &payloadError{err: err}
	}
	return nil
}

func (c *Client) write(v any) error {
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
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(frameType, data)
}

// Send pushes an unsolicited message to the client.
func (c *Client) Send(msgType string, payload any) error {
	return c.write(protocol.Message{Type: msgType, Payload: payload})
}

func (c *Client) reply(req protocol.Request, payload any) error {
	return c.write(protocol.Response{ID: req.ID, Type: req.Type, Success: true, Payload: payload})
}

// replyError sends a structured error response to a WebSocket client.
func (c *Client) replyError(requestID, reqType, code, message string) {
	err := c.write(protocol.Response{
		ID:      requestID,
		Type:    reqType,
		Success: false,
		Error:   message,
		Code:    code,
	})
	if err != nil {
		c.log.WithError(err).Debug("failed to send error response")
	}
}

// pumpEvents forwards the client's subscription until it is closed.
func (c *Client) pumpEvents() {
	for ev := range c.sub.C {
		if err := c.write(eventMessage(ev)); err != nil {
			c.log.WithError(err).Debug("event write failed, dropping client")
			c.close()
			return
		}
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.sub.Close()
	c.conn.Close()
}

// payloadError marks a request whose payload could not be decoded.
type payloadError struct {
	err error
}

func (e *payloadError) Error() string { return e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }
