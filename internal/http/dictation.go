package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-invoice-service/internal/observability/logging"
	"voice-invoice-service/internal/service/audio"
	"voice-invoice-service/internal/service/dictation"
	"voice-invoice-service/internal/service/extraction"
	"voice-invoice-service/internal/service/pipeline"
)

const (
	writeWait    = 10 * time.Second
	outboxFrames = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Control is a client message on the dictation socket. Audio travels as
// binary frames.
type Control struct {
	Type string `json:"type"` // start, stop, reset
}

// Message is a server message on the dictation socket.
type Message struct {
	Type      string                     `json:"type"`
	SessionID string                     `json:"sessionId,omitempty"`
	State     *dictation.TranscriptState `json:"state,omitempty"`
	Draft     *pipeline.Record           `json:"draft,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// Message types sent to the client.
const (
	MessageSession = "session"
	MessageState   = "state"
	MessageDraft   = "draft"
	MessageError   = "error"
)

// dictation serves one capture session per connection. Each stopped take is
// sent through the pipeline and the resolved draft is pushed back.
func (h *handlers) dictation(w http.ResponseWriter, r *http.Request) {
	if h.deps.NewDictation == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "dictation is not configured"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLog := logging.WithComponent("dictation.ws")
		wsLog.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sessionID := uuid.NewString()
	c := &dictationConn{
		conn:   conn,
		out:    make(chan Message, outboxFrames),
		logger: logging.WithSession("dictation.ws", sessionID),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ex extraction.Extractor
	if h.deps.Extractor != nil {
		ex = extraction.NewGate(h.deps.Extractor)
	}

	session, feed := h.deps.NewDictation(sessionID,
		dictation.WithObserver(func(st dictation.TranscriptState) {
			c.offer(Message{Type: MessageState, State: &st})
		}),
		dictation.WithSettledHandler(func(st dictation.Settlement) {
			c.process(ctx, h.deps.Pipeline, ex, st)
		}),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	c.offer(Message{Type: MessageSession, SessionID: sessionID})
	c.logger.Info().Msg("Dictation connection opened")

	c.readLoop(ctx, session, feed)

	session.Close()
	feed.Close()
	cancel()
	c.shutdown()
	<-writerDone
	conn.Close()
	c.logger.Info().Msg("Dictation connection closed")
}

type dictationConn struct {
	conn   *websocket.Conn
	out    chan Message
	logger zerolog.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// offer queues m without blocking. It may be called with the session lock
// held, so a full outbox drops state updates.
func (c *dictationConn) offer(m Message) {
	select {
	case c.out <- m:
	default:
		c.logger.Debug().Str("type", m.Type).Msg("Outbox full, message dropped")
	}
}

// send queues m, waiting for room until ctx is done.
func (c *dictationConn) send(ctx context.Context, m Message) {
	select {
	case c.out <- m:
	case <-ctx.Done():
	}
}

func (c *dictationConn) process(ctx context.Context, p *pipeline.Service, ex extraction.Extractor, st dictation.Settlement) {
	c.mu.Lock()
	if c.closing || p == nil {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		rec, err := p.HandleSettlement(ctx, ex, st)
		switch {
		case err != nil:
			msg := err.Error()
			var xe *extraction.ExtractionFailedError
			if errors.As(err, &xe) {
				msg = xe.Message
			}
			c.send(ctx, Message{Type: MessageError, Error: msg})
		case rec != nil:
			c.send(ctx, Message{Type: MessageDraft, Draft: rec})
		}
	}()
}

// shutdown waits for in-flight pipeline work and refuses new work.
func (c *dictationConn) shutdown() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *dictationConn) readLoop(ctx context.Context, session *dictation.Session, feed *audio.Feed) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Dictation connection read failed")
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if err := feed.Send(data); err != nil && errors.Is(err, audio.ErrLimitExceeded) {
				c.offer(Message{Type: MessageError, Error: err.Error()})
				session.Stop()
			}
			continue
		}

		var ctl Control
		if err := json.Unmarshal(data, &ctl); err != nil {
			c.offer(Message{Type: MessageError, Error: "invalid control message"})
			continue
		}
		switch ctl.Type {
		case "start":
			feed.BeginTake()
			if err := session.Start(ctx); err != nil {
				c.offer(Message{Type: MessageError, Error: err.Error()})
			}
		case "stop":
			session.Stop()
		case "reset":
			session.Reset()
		default:
			c.offer(Message{Type: MessageError, Error: "unknown control type " + ctl.Type})
		}
	}
}

func (c *dictationConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.logger.Debug().Err(err).Msg("Dictation write failed")
				return
			}
		}
	}
}
