package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Link is one established connection to the remote device. The concrete
// implementation is a websocket; tests substitute in-memory links.
type Link interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens Links
type Dialer interface {
	Dial(ctx context.Context, url string) (Link, error)
}

// NewDialer returns the default websocket dialer
func NewDialer() Dialer {
	return wsDialer{}
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsLink{conn: conn}, nil
}

// wsLink wraps a gorilla connection. Writes are serialized; gorilla allows
// at most one concurrent writer.
type wsLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (l *wsLink) ReadMessage() ([]byte, error) {
	_, data, err := l.conn.ReadMessage()
	return data, err
}

func (l *wsLink) WriteJSON(v interface{}) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(v)
}

func (l *wsLink) Close() error {
	return l.conn.Close()
}
