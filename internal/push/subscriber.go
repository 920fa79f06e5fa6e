package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"nhooyr.io/websocket"
)

// DialTimeout bounds the websocket handshake.
const DialTimeout = 10 * time.Second

// Subscriber reads frames from the server's push channel.
type Subscriber struct {
	url     string
	logger  *slog.Logger
	onReady func()
}

// NewSubscriber creates a subscriber for a ws:// or wss:// url.
func NewSubscriber(url string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Subscriber{url: url, logger: logger}
}

// OnReady registers fn to be called from Run each time the server greets
// the connection. Frames published after the greeting are delivered.
func (s *Subscriber) OnReady(fn func()) {
	s.onReady = fn
}

// Run connects and delivers decoded status and progress messages to out
// until ctx is done or the connection drops. Greetings are logged, not
// delivered. Malformed frames are logged and skipped.
func (s *Subscriber) Run(ctx context.Context, out chan<- Message) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read websocket: %w", err)
		}

		msg, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownFrame) {
				s.logger.Debug("frame ignored", "err", err)
			} else {
				s.logger.Warn("malformed frame", "err", err)
			}
			continue
		}
		if msg.Status == nil && msg.Progress == nil {
			s.logger.Info("connected", "greeting", msg.Greeting)
			if s.onReady != nil {
				s.onReady()
			}
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}
