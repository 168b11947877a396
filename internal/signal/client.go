package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/sirupsen/logrus"
)

var ErrClientClosed = errors.New("signaling client closed")

// Client is a transport.Signaler backed by a websocket to a Server.
type Client struct {
	conn    *websocket.Conn
	logger  *logrus.Entry
	signals chan transport.Signal
	replies chan *Envelope
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ transport.Signaler = (*Client)(nil)

// Dial connects to the signaling server at url (ws://host:port/ws).
func Dial(ctx context.Context, url string, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger.WithField("component", "signal-client"),
		signals: make(chan transport.Signal, 64),
		replies: make(chan *Envelope, 1),
		done:    make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go c.readLoop()
	return c, nil
}

// Register claims id, or asks the server to assign one when id is empty.
func (c *Client) Register(ctx context.Context, id string) (string, error) {
	if err := c.write(&Envelope{Kind: KindRegister, From: id}); err != nil {
		return "", err
	}

	select {
	case reply := <-c.replies:
		switch reply.Kind {
		case KindRegistered:
			return reply.To, nil
		case KindIDTaken:
			return "", fmt.Errorf("%s: %w", reply.To, transport.ErrIDTaken)
		default:
			return "", fmt.Errorf("unexpected %s reply to registration", reply.Kind)
		}
	case <-c.done:
		return "", ErrClientClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) SendSignal(ctx context.Context, s transport.Signal) error {
	var kind Kind
	switch s.Kind {
	case transport.SignalOffer:
		kind = KindOffer
	case transport.SignalAnswer:
		kind = KindAnswer
	default:
		return fmt.Errorf("cannot send signal kind %d", s.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(&Envelope{
		Kind:     kind,
		From:     s.From,
		To:       s.To,
		LinkID:   s.LinkID,
		Nickname: s.Nickname,
		Payload:  s.Payload,
	})
}

func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(env *Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, env.Marshal()); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Kind, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.signals)
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debugf("Signaling connection lost: %v", err)
			}
			return
		}

		env, err := UnmarshalEnvelope(data)
		if err != nil {
			c.logger.Warnf("Dropping frame: %v", err)
			continue
		}

		switch env.Kind {
		case KindRegistered, KindIDTaken:
			select {
			case c.replies <- env:
			default:
			}
		case KindOffer, KindAnswer, KindPeerUnavailable:
			if !c.deliver(env) {
				return
			}
		case KindError:
			c.logger.Warnf("Signaling server error: %s", env.Payload)
		default:
			c.logger.Debugf("Ignoring %s", env.Kind)
		}
	}
}

func (c *Client) deliver(env *Envelope) bool {
	s := transport.Signal{
		From:     env.From,
		To:       env.To,
		LinkID:   env.LinkID,
		Nickname: env.Nickname,
		Payload:  env.Payload,
	}
	switch env.Kind {
	case KindOffer:
		s.Kind = transport.SignalOffer
	case KindAnswer:
		s.Kind = transport.SignalAnswer
	case KindPeerUnavailable:
		s.Kind = transport.SignalUnavailable
	}

	select {
	case c.signals <- s:
		return true
	case <-c.done:
		return false
	}
}
