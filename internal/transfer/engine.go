package transfer

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/loop"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Sender            Sender
	Scheduler         loop.Scheduler
	ChunkSize         int
	ChunkInterval     time.Duration
	ProgressInterval  time.Duration
	CompletionPoll    time.Duration
	CompletionRetries int
	AutoAccept        bool
	HistoryLimit      int
	// Nickname is announced as the sender of outbound transfers.
	Nickname string
	Delivery Delivery
	Observer Observer
	Store    HistoryStore
	Logger   *logrus.Logger
}

// OptionsFromConfig fills the tunables of Options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ChunkSize:         cfg.ChunkSize,
		ChunkInterval:     cfg.ChunkInterval,
		ProgressInterval:  cfg.ProgressInterval,
		CompletionPoll:    cfg.CompletionPoll,
		CompletionRetries: cfg.CompletionRetries,
		AutoAccept:        cfg.AutoAccept,
		HistoryLimit:      cfg.HistoryLimit,
	}
}

// Engine tracks every transfer of a session. All methods must be called
// from the session loop.
type Engine struct {
	sender    Sender
	sched     loop.Scheduler
	chunkSize int64
	interval  time.Duration
	report    time.Duration
	poll      time.Duration
	retries   int
	accept    bool
	limit     int
	nickname  string
	delivery  Delivery
	observer  Observer
	store     HistoryStore
	logger    *logrus.Entry

	outbound map[string]*outboundTransfer
	inbound  map[string]*inboundTransfer
	// finished holds ids that must not be recreated by a re-announcement.
	finished map[string]bool
	history  []Record
}

func New(opts Options) *Engine {
	defaults := config.Default()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaults.ChunkSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaults.ProgressInterval
	}
	if opts.CompletionPoll <= 0 {
		opts.CompletionPoll = defaults.CompletionPoll
	}
	if opts.CompletionRetries <= 0 {
		opts.CompletionRetries = defaults.CompletionRetries
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Delivery == nil {
		opts.Delivery = NewMemoryDelivery()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	return &Engine{
		sender:    opts.Sender,
		sched:     opts.Scheduler,
		chunkSize: int64(opts.ChunkSize),
		interval:  opts.ChunkInterval,
		report:    opts.ProgressInterval,
		poll:      opts.CompletionPoll,
		retries:   opts.CompletionRetries,
		accept:    opts.AutoAccept,
		limit:     opts.HistoryLimit,
		nickname:  opts.Nickname,
		delivery:  opts.Delivery,
		observer:  opts.Observer,
		store:     opts.Store,
		logger:    logger.WithField("component", "transfer"),
		outbound:  make(map[string]*outboundTransfer),
		inbound:   make(map[string]*inboundTransfer),
		finished:  make(map[string]bool),
	}
}

// PeerClosed abandons inbound transfers from peer and removes peer from the
// targets of outbound transfers addressed to it.
func (e *Engine) PeerClosed(peer string) {
	for id, in := range e.inbound {
		if in.from != peer {
			continue
		}
		e.logger.Warnf("Discarding %s from %s: peer disconnected", in.fileName, peer)
		e.dropInbound(id)
		e.observer.Ended(Ended{TransferID: id, FileName: in.fileName, Direction: DirectionReceived, Reason: ReasonDisconnected})
	}

	for id, out := range e.outbound {
		if !out.removeTarget(peer) {
			continue
		}
		if len(out.targets) == 0 {
			e.logger.Warnf("Abandoning %s: no recipients left", out.fileName)
			e.dropOutbound(id)
			e.observer.Ended(Ended{TransferID: id, FileName: out.fileName, Direction: DirectionSent, Reason: ReasonDisconnected})
		}
	}
}

// Active returns the progress of every running transfer.
func (e *Engine) Active() []Progress {
	now := e.sched.Now()
	out := make([]Progress, 0, len(e.outbound)+len(e.inbound))
	for _, o := range e.outbound {
		out = append(out, o.progress(now))
	}
	for _, in := range e.inbound {
		out = append(out, in.progress(now))
	}
	return out
}

// Offers returns inbound transfers awaiting a decision.
func (e *Engine) Offers() []Offer {
	var offers []Offer
	for _, in := range e.inbound {
		if !in.accepted {
			offers = append(offers, in.offer())
		}
	}
	return offers
}

// Close stops every scheduled continuation and drops all state.
func (e *Engine) Close() {
	for id := range e.outbound {
		e.dropOutbound(id)
	}
	for id := range e.inbound {
		e.dropInbound(id)
	}
}

// History returns completed transfers, newest first.
func (e *Engine) History() []Record {
	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// LoadHistory seeds the in-memory history from the store.
func (e *Engine) LoadHistory(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	records, err := e.store.RecentTransfers(ctx, e.limit)
	if err != nil {
		return err
	}
	e.history = records
	return nil
}

func (e *Engine) ClearHistory(ctx context.Context) error {
	e.history = nil
	if e.store == nil {
		return nil
	}
	return e.store.ClearTransfers(ctx)
}

func (e *Engine) record(r Record) {
	e.history = append([]Record{r}, e.history...)
	if len(e.history) > e.limit {
		e.history = e.history[:e.limit]
	}
	if e.store != nil {
		if err := e.store.AddTransfer(context.Background(), r); err != nil {
			e.logger.Warnf("Failed to persist history record: %v", err)
		}
	}
	e.observer.Completed(r)
}

// shouldReport throttles progress to one report per interval.
func (e *Engine) shouldReport(last, now time.Time) bool {
	return last.IsZero() || now.Sub(last) >= e.report
}

func computeProgress(id, name string, dir Direction, bytes, total int64, started, now time.Time) Progress {
	p := Progress{
		TransferID: id,
		FileName:   name,
		Direction:  dir,
		Bytes:      bytes,
		Total:      total,
		Percent:    100,
	}
	if total > 0 {
		p.Percent = float64(bytes) / float64(total) * 100
	}
	if elapsed := now.Sub(started).Seconds(); elapsed > 0 {
		p.Speed = float64(bytes) / elapsed
	}
	if p.Speed > 0 && bytes < total {
		p.ETA = time.Duration(float64(total-bytes) / p.Speed * float64(time.Second))
	}
	p.Done = total == bytes
	return p
}
