// Package session wires the directory, dispatcher, transfer engine, mesh
// gossip and liveness monitor onto one transport and runs them on a single
// event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peer-mesh/internal/chat"
	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/directory"
	"github.com/rudransh-shrivastava/peer-mesh/internal/dispatch"
	"github.com/rudransh-shrivastava/peer-mesh/internal/gossip"
	"github.com/rudransh-shrivastava/peer-mesh/internal/liveness"
	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transfer"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	notificationBuffer = 256
	chatLoadLimit      = 100
)

var (
	ErrClosed   = errors.New("session closed")
	ErrNoPeers  = errors.New("no connected peers")
	ErrNoHostID = errors.New("joiner needs the host id")
)

type Options struct {
	Config    config.Config
	Transport transport.Transport
	// Host is set on the session originator, whose transport id is the room
	// id. Joiners set HostID to the room id instead.
	Host     bool
	HostID   string
	Nickname string
	Delivery transfer.Delivery
	History  transfer.HistoryStore
	Chats    chat.Store
	Logger   *logrus.Logger
}

type Session struct {
	cfg       config.Config
	transport transport.Transport
	host      bool
	hostID    string
	nickname  string

	loop    *loop.Loop
	codec   *protocol.Codec
	dir     *directory.Directory
	disp    *dispatch.Dispatcher
	engine  *transfer.Engine
	mesh    *gossip.Mesh
	monitor *liveness.Monitor
	chat    *chat.Log

	notes    chan Notification
	stopping bool
	done     chan struct{}
	runOnce  sync.Once
	logger   *logrus.Entry
}

func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session needs a transport")
	}
	cfg := opts.Config
	if cfg.ChunkSize == 0 {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	self := opts.Transport.ID()
	hostID := opts.HostID
	if opts.Host {
		hostID = self
	}
	if hostID == "" {
		return nil, ErrNoHostID
	}
	nickname := opts.Nickname
	if nickname == "" {
		nickname = defaultNickname(self)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		cfg:       cfg,
		transport: opts.Transport,
		host:      opts.Host,
		hostID:    hostID,
		nickname:  nickname,
		loop:      loop.New(),
		codec:     protocol.NewCodec(),
		chat:      chat.NewLog(opts.Chats),
		notes:     make(chan Notification, notificationBuffer),
		done:      make(chan struct{}),
		logger:    logger.WithField("component", "session"),
	}

	s.dir = directory.New(self, nickname, s.loop.Now)
	s.disp = dispatch.New(dispatch.Options{
		Self:      self,
		Transport: opts.Transport,
		Scheduler: s.loop,
		Metadata:  transport.Metadata{Nickname: nickname},
		DialGrace: cfg.DialGrace,
		Targets:   s.dir.ListOthers,
		Logger:    logger,
	})

	engineOpts := transfer.OptionsFromConfig(cfg)
	engineOpts.Sender = s.disp
	engineOpts.Scheduler = s.loop
	engineOpts.Nickname = nickname
	engineOpts.Delivery = opts.Delivery
	engineOpts.Observer = engineObserver{s: s}
	engineOpts.Store = opts.History
	engineOpts.Logger = logger
	s.engine = transfer.New(engineOpts)

	s.mesh = gossip.New(gossip.Options{
		Directory:  s.dir,
		Dispatcher: s.disp,
		Host:       opts.Host,
		HostID:     hostID,
		Nickname:   nickname,
		Logger:     logger,
	})
	s.monitor = liveness.New(s.disp, s.loop, cfg.HeartbeatInterval)
	return s, nil
}

func defaultNickname(id string) string {
	if len(id) > 6 {
		id = id[:6]
	}
	return "peer-" + id
}

func (s *Session) ID() string {
	return s.transport.ID()
}

func (s *Session) Nickname() string {
	return s.nickname
}

// RoomID is the host's id, the one joiners dial.
func (s *Session) RoomID() string {
	return s.hostID
}

func (s *Session) IsHost() bool {
	return s.host
}

// Notifications is closed when Run returns.
func (s *Session) Notifications() <-chan Notification {
	return s.notes
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until ctx is cancelled, Leave is called or the
// transport goes away. It may be called once.
func (s *Session) Run(ctx context.Context) error {
	err := ErrClosed
	s.runOnce.Do(func() {
		err = s.run(ctx)
	})
	return err
}

func (s *Session) run(ctx context.Context) error {
	defer s.shutdown()

	if err := s.engine.LoadHistory(ctx); err != nil {
		s.logger.Warnf("Failed to load transfer history: %v", err)
	}
	if err := s.chat.Load(ctx, chatLoadLimit); err != nil {
		s.logger.Warnf("Failed to load chat log: %v", err)
	}

	if s.host {
		s.logger.Infof("Hosting room %s as %s", s.hostID, s.nickname)
	} else {
		s.logger.Infof("Joining room %s as %s", s.hostID, s.nickname)
		s.disp.Dial(s.hostID)
	}

	events := s.transport.Events()
	for !s.stopping {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrClosed
			}
			s.handleEvent(ev)
		case task := <-s.loop.Tasks():
			task()
		case <-ctx.Done():
			s.mesh.Leave()
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) shutdown() {
	s.monitor.Stop()
	s.engine.Close()
	s.disp.Close()
	s.loop.Stop()
	if err := s.transport.Close(); err != nil {
		s.logger.Warnf("Failed to close transport: %v", err)
	}
	close(s.notes)
	close(s.done)
	s.logger.Info("Session closed")
}

// do runs fn on the loop and waits for it.
func do[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	posted := s.loop.Post(func() {
		v, err := fn()
		ch <- result{v, err}
	})
	if !posted {
		return zero, ErrClosed
	}

	select {
	case r := <-ch:
		return r.v, r.err
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func exec(ctx context.Context, s *Session, fn func() error) error {
	_, err := do(ctx, s, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// SendFile streams the file at path to targets, or to everyone when
// targets is empty. It returns the transfer id.
func (s *Session) SendFile(ctx context.Context, path string, targets []string) (string, error) {
	return do(ctx, s, func() (string, error) {
		return s.engine.SendFile(path, targets)
	})
}

func (s *Session) SendData(ctx context.Context, fileName string, data []byte, targets []string) (string, error) {
	return do(ctx, s, func() (string, error) {
		return s.engine.SendData(fileName, data, targets)
	})
}

func (s *Session) CancelTransfer(ctx context.Context, id string) error {
	return exec(ctx, s, func() error { return s.engine.Cancel(id) })
}

func (s *Session) AcceptTransfer(ctx context.Context, id string) error {
	return exec(ctx, s, func() error { return s.engine.Accept(id) })
}

func (s *Session) DeclineTransfer(ctx context.Context, id string) error {
	return exec(ctx, s, func() error { return s.engine.Decline(id) })
}

// SendChat sends content to targets, or to everyone when targets is empty,
// and appends it to the chat log.
func (s *Session) SendChat(ctx context.Context, content string, targets []string) error {
	return exec(ctx, s, func() error {
		now := s.loop.Now()
		msg := &protocol.Chat{Content: content, SenderNickname: s.nickname, Time: now.UnixMilli()}

		if len(targets) == 0 {
			if s.disp.Broadcast(msg) == 0 {
				return ErrNoPeers
			}
		} else if !s.disp.SendToSubset(targets, msg) {
			return ErrNoPeers
		}

		err := s.chat.Append(ctx, chat.Message{
			Content:        content,
			SenderNickname: s.nickname,
			Direction:      chat.DirectionSent,
			At:             now,
		})
		if err != nil {
			s.logger.Warnf("Failed to persist chat message: %v", err)
		}
		return nil
	})
}

// Devices lists the directory, self first.
func (s *Session) Devices(ctx context.Context) ([]directory.Device, error) {
	return do(ctx, s, func() ([]directory.Device, error) {
		return s.dir.List(), nil
	})
}

func (s *Session) OpenPeers(ctx context.Context) ([]string, error) {
	return do(ctx, s, func() ([]string, error) {
		return s.disp.OpenPeers(), nil
	})
}

// Transfers lists the transfers in flight.
func (s *Session) Transfers(ctx context.Context) ([]transfer.Progress, error) {
	return do(ctx, s, func() ([]transfer.Progress, error) {
		return s.engine.Active(), nil
	})
}

// Offers lists inbound transfers waiting for a decision.
func (s *Session) Offers(ctx context.Context) ([]transfer.Offer, error) {
	return do(ctx, s, func() ([]transfer.Offer, error) {
		return s.engine.Offers(), nil
	})
}

func (s *Session) History(ctx context.Context) ([]transfer.Record, error) {
	return do(ctx, s, func() ([]transfer.Record, error) {
		return s.engine.History(), nil
	})
}

func (s *Session) ClearHistory(ctx context.Context) error {
	return exec(ctx, s, func() error { return s.engine.ClearHistory(ctx) })
}

func (s *Session) ChatLog(ctx context.Context) ([]chat.Message, error) {
	return do(ctx, s, func() ([]chat.Message, error) {
		return s.chat.Messages(), nil
	})
}

// Leave announces our departure to every open peer and stops Run.
func (s *Session) Leave(ctx context.Context) error {
	err := exec(ctx, s, func() error {
		n := s.mesh.Leave()
		s.logger.Infof("Leaving room %s, told %d peers", s.hostID, n)
		s.stopping = true
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
