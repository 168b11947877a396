package store

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/chat"
	"gorm.io/gorm"
)

type ChatStore struct {
	DB *gorm.DB
}

var _ chat.Store = (*ChatStore)(nil)

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{DB: db}
}

func (cs *ChatStore) AddChat(ctx context.Context, m chat.Message) error {
	row := ChatMessage{
		Content:        m.Content,
		SenderNickname: m.SenderNickname,
		Direction:      string(m.Direction),
		Peer:           m.Peer,
		SentAt:         m.At.UnixMilli(),
	}
	return cs.DB.WithContext(ctx).Create(&row).Error
}

// RecentChats returns the last limit messages, oldest first.
func (cs *ChatStore) RecentChats(ctx context.Context, limit int) ([]chat.Message, error) {
	var rows []ChatMessage
	err := cs.DB.WithContext(ctx).
		Order("sent_at desc").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	messages := make([]chat.Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = chat.Message{
			Content:        row.Content,
			SenderNickname: row.SenderNickname,
			Direction:      chat.Direction(row.Direction),
			Peer:           row.Peer,
			At:             time.UnixMilli(row.SentAt),
		}
	}
	return messages, nil
}
