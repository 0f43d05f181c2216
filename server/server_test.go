package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

type fixture struct {
	t      *testing.T
	radio  *nfc.MockRadio
	bridge *nfc.Manager
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	f := &fixture{t: t, radio: nfc.NewMockRadio()}
	f.bridge = nfc.NewManager(nfc.Options{Radio: f.radio})
	cfg.Bridge = f.bridge
	f.server = New(cfg)
	f.http = httptest.NewServer(f.server.Handler())
	t.Cleanup(func() {
		f.server.Stop()
		f.http.Close()
		f.bridge.Close()
	})
	return f
}

func (f *fixture) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + PathWebSocket
	if query != "" {
		u += "?" + query
	}
	return u
}

// client is a test caller speaking one codec.
type client struct {
	t     *testing.T
	conn  *websocket.Conn
	codec protocol.Codec
}

// wireFrame decodes responses, events and pushed messages alike.
type wireFrame struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Success bool           `json:"success"`
	Seq     uint64         `json:"seq"`
	Payload map[string]any `json:"payload"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
}

func (f *fixture) dial(query string, header http.Header) *client {
	f.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(query), header)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { conn.Close() })

	codec := protocol.JSON
	if strings.Contains(query, "encoding=cbor") {
		codec = protocol.CBOR
	}
	c := &client{t: f.t, conn: conn, codec: codec}
	hello := c.read()
	require.Equal(f.t, protocol.TypeRadioStatus, hello.Type)
	return c
}

func (c *client) read() wireFrame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	if c.codec.Binary() {
		require.Equal(c.t, websocket.BinaryMessage, msgType)
	} else {
		require.Equal(c.t, websocket.TextMessage, msgType)
	}
	var f wireFrame
	require.NoError(c.t, c.codec.Unmarshal(data, &f))
	return f
}

// expect skips frames until one of type typ arrives.
func (c *client) expect(typ string) wireFrame {
	c.t.Helper()
	for i := 0; i < 16; i++ {
		if f := c.read(); f.Type == typ {
			return f
		}
	}
	c.t.Fatalf("no %s frame", typ)
	return wireFrame{}
}

func (c *client) send(id, typ string, payload any) {
	c.t.Helper()
	data, err := c.codec.Marshal(protocol.Message{ID: id, Type: typ, Payload: payload})
	require.NoError(c.t, err)
	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	require.NoError(c.t, c.conn.WriteMessage(frameType, data))
}

// call sends a request and waits for its response.
func (c *client) call(typ string, payload any) wireFrame {
	c.t.Helper()
	id := typ + "-1"
	c.send(id, typ, payload)
	for i := 0; i < 16; i++ {
		if f := c.read(); f.ID == id {
			require.Equal(c.t, typ, f.Type)
			return f
		}
	}
	c.t.Fatalf("no response to %s", typ)
	return wireFrame{}
}

func ntag() nfc.RawTag {
	caps, techs := nfc.InferCapabilities(nfc.CardTypeNtag213)
	return nfc.RawTag{UID: []byte{0x04, 0xA1, 0xB2, 0xC3}, Kind: techs[0], TechTypes: techs, Capabilities: caps}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, Config{})

	resp, err := http.Get(f.http.URL + PathHealth)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	var body struct {
		Status string                   `json:"status"`
		Build  map[string]string        `json:"build"`
		Radio  protocol.RadioStatusInfo `json:"radio"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, buildinfo.Name, body.Build["name"])
	assert.Equal(t, buildinfo.Version, body.Build["version"])
	assert.Equal(t, "mock", body.Radio.Name)
	assert.Equal(t, "idle", body.Radio.Phase)

	post, err := http.Post(f.http.URL+PathHealth, "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestMDNSTXTRecords(t *testing.T) {
	records := mdnsTXTRecords()
	assert.Contains(t, records, "version="+buildinfo.Version)
	assert.Contains(t, records, "name="+buildinfo.Name)
	assert.Contains(t, records, "path="+PathWebSocket)
	assert.Equal(t, "encodings=json,cbor", records[len(records)-1])
}

func TestWebSocket_SessionFlow(t *testing.T) {
	f := newFixture(t, Config{EventPolicy: nfc.Unbounded()})
	f.radio.Responder = func(tag nfc.TagRef, frame nfc.Frame) ([]byte, error) {
		return []byte{0xCA, 0xFE}, nil
	}
	c := f.dial("", nil)

	res := c.call(protocol.TypeStartSession, protocol.StartSessionPayload{Techs: "tag"})
	require.True(t, res.Success, res.Error)
	sessionID := res.Payload["sessionId"]
	assert.NotEmpty(t, sessionID)

	started := c.expect(protocol.EventSessionStarted)
	assert.Equal(t, sessionID, started.Payload["sessionId"])

	require.True(t, f.radio.Detect(ntag()))
	tag := c.expect(protocol.EventTagDiscovered)
	assert.Equal(t, "04A1B2C3", tag.Payload["uid"])
	assert.Greater(t, tag.Seq, started.Seq)

	res = c.call(protocol.TypeIssueCommand, protocol.IssueCommandPayload{Opcode: "transceive", Data: []byte{0x30, 0x04}})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "transceive", res.Payload["opcode"])

	done := c.expect(protocol.EventCommandCompleted)
	assert.Equal(t, res.Payload["commandId"], done.Payload["commandId"])
	assert.Equal(t, "yv4=", done.Payload["data"]) // base64 of CA FE

	res = c.call(protocol.TypeGetTag, nil)
	require.True(t, res.Success)
	assert.Equal(t, "04A1B2C3", res.Payload["uid"])

	res = c.call(protocol.TypeCancelSession, nil)
	require.True(t, res.Success)
	ended := c.expect(protocol.EventSessionEnded)
	assert.Equal(t, "cancelled", ended.Payload["reason"])
}

func TestWebSocket_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial("", nil)

	tests := []struct {
		name    string
		typ     string
		payload any
		code    string
	}{
		{"command without tag", protocol.TypeIssueCommand, protocol.IssueCommandPayload{Opcode: "ndefRead"}, "NotConnected"},
		{"unknown opcode", protocol.TypeIssueCommand, protocol.IssueCommandPayload{Opcode: "selfDestruct"}, "InvalidArgument"},
		{"cancel without session", protocol.TypeCancelSession, nil, "NoActiveSession"},
		{"bad payload", protocol.TypeSetTimeout, map[string]any{"timeoutMs": "soon"}, protocol.ErrCodeInvalidPayload},
		{"zero timeout", protocol.TypeSetTimeout, protocol.TimeoutPayload{}, "InvalidArgument"},
		{"unknown tech set", protocol.TypeStartSession, protocol.StartSessionPayload{Techs: "iso"}, "InvalidArgument"},
		{"unknown type", "selfDestruct", nil, protocol.ErrCodeUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.call(tt.typ, tt.payload)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.NotEmpty(t, res.Error)
		})
	}

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	res := c.read()
	assert.False(t, res.Success)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, res.Code)
}

func TestWebSocket_AlreadyActive(t *testing.T) {
	f := newFixture(t, Config{})
	first := f.dial("", nil)
	second := f.dial("", nil)

	require.True(t, first.call(protocol.TypeStartSession, nil).Success)
	res := second.call(protocol.TypeStartSession, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "AlreadyActive", res.Code)

	// Both callers observe the same session.
	first.expect(protocol.EventSessionStarted)
	second.expect(protocol.EventSessionStarted)
}

func TestWebSocket_HardwareUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.radio.Enabled = false
	c := f.dial("", nil)

	res := c.call(protocol.TypeRadioStatus, nil)
	require.True(t, res.Success)
	assert.Equal(t, false, res.Payload["enabled"])

	res = c.call(protocol.TypeStartSession, nil)
	assert.Equal(t, "HardwareUnavailable", res.Code)
}

func TestWebSocket_CBOR(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial("encoding=cbor", nil)

	res := c.call(protocol.TypeStartSession, protocol.StartSessionPayload{Techs: "ndef", AlertMessage: "Hold your card"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Hold your card", f.radio.Request().AlertMessage)

	require.True(t, f.radio.Detect(ntag()))
	tag := c.expect(protocol.EventTagDiscovered)
	assert.Equal(t, "04A1B2C3", tag.Payload["uid"])

	_, _, err := websocket.DefaultDialer.Dial(f.wsURL("encoding=msgpack"), nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestWebSocket_APISecret(t *testing.T) {
	f := newFixture(t, Config{APISecret: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(f.wsURL("secret=wrong"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.dial("secret=s3cret", nil)
	f.dial("", http.Header{"Authorization": []string{"Bearer s3cret"}})
	assert.Eventually(t, func() bool { return f.server.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWebSocket_ClientDisconnect(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial("", nil)
	require.Eventually(t, func() bool { return f.server.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	c.conn.Close()
	assert.Eventually(t, func() bool { return f.server.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

type echoHandler struct{}

func (echoHandler) Register(s HandlerServer) {
	s.HandleWebSocket(func(r *http.Request) bool {
		return r.URL.Query().Get("mode") == "echo"
	}, func(w http.ResponseWriter, r *http.Request) bool {
		_, _ = w.Write([]byte("echo"))
		return true
	})
}

func TestWebSocket_CustomHandlerTakesOver(t *testing.T) {
	f := newFixture(t, Config{APISecret: "s3cret", Handlers: []ServerHandler{echoHandler{}}})

	resp, err := http.Get(f.http.URL + PathWebSocket + "?mode=echo")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.server.ClientCount())
}
