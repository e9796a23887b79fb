package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Frame is one inbound message: binary frames carry audio payloads,
// text frames carry JSON control messages.
type Frame struct {
	Binary bool
	Data   []byte
}

// Transport abstracts the bidirectional connection so the orchestrator
// can be driven by a fake in tests. Read is called by a single reader;
// WriteEvent may be called concurrently from the pipeline and the
// heartbeat.
type Transport interface {
	// Read blocks for the next inbound frame, honouring ctx for
	// cancellation and deadlines.
	Read(ctx context.Context) (Frame, error)

	// WriteEvent marshals v to JSON and sends it as a text frame.
	WriteEvent(ctx context.Context, v any) error

	// Close closes the connection with a normal-closure status. Safe to
	// call more than once.
	Close(reason string) error
}

// wsTransport adapts a coder/websocket connection to Transport.
type wsTransport struct {
	conn *websocket.Conn

	// writeMu serialises writes; the websocket allows only one
	// concurrent writer per message type.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*wsTransport)(nil)

// NewWebsocketTransport wraps an accepted websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read(ctx context.Context) (Frame, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

func (t *wsTransport) WriteEvent(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("session: write event: %w", err)
	}
	return nil
}

func (t *wsTransport) Close(reason string) error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return t.closeErr
}
