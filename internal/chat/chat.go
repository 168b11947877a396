// Package chat holds the append-only chat log of a session.
package chat

import (
	"context"
	"time"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is immutable once appended.
type Message struct {
	Content        string
	SenderNickname string
	Direction      Direction
	// Peer is the sender for received messages.
	Peer string
	At   time.Time
}

// Store persists chat messages.
type Store interface {
	AddChat(ctx context.Context, m Message) error
	RecentChats(ctx context.Context, limit int) ([]Message, error)
}

// Log keeps messages in arrival order and mirrors them to an optional store.
// It is owned by the session loop.
type Log struct {
	messages []Message
	store    Store
}

func NewLog(store Store) *Log {
	return &Log{store: store}
}

// Load seeds the log with the most recent persisted messages.
func (l *Log) Load(ctx context.Context, limit int) error {
	if l.store == nil {
		return nil
	}
	messages, err := l.store.RecentChats(ctx, limit)
	if err != nil {
		return err
	}
	l.messages = messages
	return nil
}

func (l *Log) Append(ctx context.Context, m Message) error {
	l.messages = append(l.messages, m)
	if l.store == nil {
		return nil
	}
	return l.store.AddChat(ctx, m)
}

// Messages returns a copy of the log, oldest first.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	return len(l.messages)
}
