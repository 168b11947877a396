package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/session"
	"github.com/rudransh-shrivastava/peer-mesh/internal/signal"
	"github.com/rudransh-shrivastava/peer-mesh/internal/store"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transfer"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// runRoom hosts a new room when roomID is empty and joins roomID otherwise.
func runRoom(cmd *cobra.Command, flags *globalFlags, roomID string) error {
	cfg, err := flags.config()
	if err != nil {
		return err
	}
	log := flags.logger()
	host := roomID == ""

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		Config:   cfg,
		Host:     host,
		HostID:   roomID,
		Nickname: flags.nickname,
		Delivery: transfer.NewDiskDelivery(cfg.DownloadDir),
		Logger:   log,
	}

	if cfg.DatabasePath != "" {
		db, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer func(db *gorm.DB) {
			if err := store.Close(db); err != nil {
				log.Warnf("Failed to close database: %v", err)
			}
		}(db)
		opts.History = store.NewTransferStore(db)
		opts.Chats = store.NewChatStore(db)
	}

	selfID := ""
	if host {
		selfID = session.GenerateRoomID()
	} else if !session.ValidRoomID(roomID) {
		log.Warnf("%q does not look like a room id, trying anyway", roomID)
	}

	tr, err := connect(ctx, cfg, selfID, log)
	if err != nil {
		return err
	}
	opts.Transport = tr

	s, err := session.New(opts)
	if err != nil {
		_ = tr.Close()
		return err
	}

	out := &console{w: cmd.OutOrStdout()}
	if host {
		out.Printf("Room %s is ready. Share it with: peer-mesh join %s\n", s.RoomID(), s.RoomID())
	} else {
		out.Printf("Joining room %s as %s\n", s.RoomID(), s.Nickname())
	}

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	view := newProgressView(out)
	go view.follow(s.Notifications())

	prompt := newREPL(s, cmd.InOrStdin(), out)
	if err := prompt.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warnf("Prompt stopped: %v", err)
	}
	if err := s.Leave(context.Background()); err != nil && !errors.Is(err, session.ErrClosed) {
		log.Warnf("Failed to leave cleanly: %v", err)
	}

	err = <-runErr
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, session.ErrClosed) {
		return nil
	}
	return err
}

// connect dials the signaling server and registers a WebRTC transport under
// id, or under an assigned id when id is empty.
func connect(ctx context.Context, cfg config.Config, id string, log *logrus.Logger) (transport.Transport, error) {
	client, err := signal.Dial(ctx, cfg.SignalURL, log)
	if err != nil {
		return nil, err
	}

	tr, err := webrtc.New(ctx, client, webrtc.Options{
		ID:          id,
		Config:      cfg.ICEConfig(),
		DataChannel: config.DefaultDataChannelConfig(),
		Logger:      log,
	})
	if err != nil {
		_ = client.Close()
		if errors.Is(err, transport.ErrIDTaken) {
			return nil, fmt.Errorf("room id %s is already in use: %w", id, err)
		}
		return nil, err
	}
	log.Infof("Registered with %s as %s", cfg.SignalURL, tr.ID())
	return tr, nil
}
