package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is one established bidirectional connection carrying frames.
// Tests substitute a scripted fake; production uses gorilla/websocket.
type Transport interface {
	WriteFrame(Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer establishes transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials the channel server over a websocket.
type WebsocketDialer struct {
	Header http.Header
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return &wsTransport{ws: ws}, nil
}

type wsTransport struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// WriteFrame writes a frame to the websocket (thread-safe).
func (t *wsTransport) WriteFrame(frame Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.ws.WriteJSON(frame)
}

// ReadFrame reads and parses one websocket message into a Frame.
func (t *wsTransport) ReadFrame() (Frame, error) {
	var frame Frame
	_, msg, err := t.ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
