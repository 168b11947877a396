// Package signal implements the rendezvous service peers use to exchange
// session descriptions before their direct links open, and the client side
// of it.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

type Server struct {
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu    sync.Mutex
	peers map[string]*peerConn
}

type peerConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peerConn) close() {
	p.once.Do(func() { close(p.done) })
}

// enqueue hands data to the writer. It reports false for a closed peer.
func (p *peerConn) enqueue(data []byte) bool {
	select {
	case p.send <- data:
		return true
	case <-p.done:
		return false
	}
}

// tryEnqueue is enqueue without waiting: it also reports false when the peer's
// writer is backed up.
func (p *peerConn) tryEnqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func NewServer(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.WithField("component", "signal"),
		peers:  make(map[string]*peerConn),
	}
}

// Handler serves the websocket endpoint on /ws and a health probe on
// /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Signaling server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Peers returns the number of registered peers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	p := &peerConn{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go s.writePump(p)
	s.readPump(p)
}

func (s *Server) readPump(p *peerConn) {
	// The writer closes the connection once it has flushed.
	defer func() {
		s.unregister(p)
		p.close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugf("Read from %s failed: %v", p.id, err)
			}
			return
		}

		env, err := UnmarshalEnvelope(data)
		if err != nil {
			s.logger.Warnf("Dropping frame from %s: %v", p.id, err)
			continue
		}
		if !s.handle(p, env) {
			return
		}
	}
}

func (s *Server) writePump(p *peerConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.done:
			// Drain what is already queued so a final reply reaches the peer.
			for {
				select {
				case data := <-p.send:
					_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = p.conn.WriteMessage(websocket.BinaryMessage, data)
				default:
					return
				}
			}
		}
	}
}

// handle processes one envelope and reports whether the connection stays up.
func (s *Server) handle(p *peerConn, env *Envelope) bool {
	if p.id == "" {
		if env.Kind != KindRegister {
			p.enqueue((&Envelope{Kind: KindError, Payload: []byte("register first")}).Marshal())
			return true
		}
		return s.register(p, env.From)
	}

	switch env.Kind {
	case KindOffer, KindAnswer:
		s.forward(p, env)
	default:
		s.logger.Warnf("Unexpected %s from %s", env.Kind, p.id)
	}
	return true
}

func (s *Server) register(p *peerConn, desired string) bool {
	id := desired
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	_, taken := s.peers[id]
	if !taken {
		p.id = id
		s.peers[id] = p
	}
	s.mu.Unlock()

	if taken {
		s.logger.Infof("Rejecting registration of %s: id in use", id)
		p.enqueue((&Envelope{Kind: KindIDTaken, To: id}).Marshal())
		return false
	}

	s.logger.Infof("Registered %s", id)
	return p.enqueue((&Envelope{Kind: KindRegistered, To: id}).Marshal())
}

func (s *Server) unregister(p *peerConn) {
	if p.id == "" {
		return
	}
	s.mu.Lock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	s.mu.Unlock()
	s.logger.Infof("Unregistered %s", p.id)
}

// forward relays an offer or answer. The sender id is stamped by the
// server; a target that is unknown or backed up is reported back to the
// sender as unavailable.
func (s *Server) forward(p *peerConn, env *Envelope) {
	s.mu.Lock()
	target, ok := s.peers[env.To]
	s.mu.Unlock()

	switch {
	case !ok:
		s.logger.Debugf("%s from %s to unknown peer %s", env.Kind, p.id, env.To)
	case !target.tryEnqueue(withFrom(env, p.id).Marshal()):
		s.logger.Warnf("Dropping %s from %s, %s is not keeping up", env.Kind, p.id, env.To)
	default:
		return
	}
	p.enqueue((&Envelope{Kind: KindPeerUnavailable, From: env.To, LinkID: env.LinkID}).Marshal())
}

func withFrom(env *Envelope, from string) *Envelope {
	out := *env
	out.From = from
	return &out
}
