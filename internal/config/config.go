// Package config holds the tunables shared by the session, its transfer
// engine and the WebRTC transport.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
)

const (
	DefaultChunkSize         = 16 * 1024
	MaxChunkSize             = 64 * 1024
	DefaultChunkInterval     = 5 * time.Millisecond
	DefaultProgressInterval  = 100 * time.Millisecond
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultCompletionPoll    = 100 * time.Millisecond
	DefaultCompletionRetries = 10
	DefaultDialGrace         = 2 * time.Second
	DefaultHistoryLimit      = 20
	DefaultSignalURL         = "ws://localhost:8080/ws"

	// SignalURLEnv overrides the signaling server url when set.
	SignalURLEnv = "PEER_MESH_SIGNAL_URL"
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

type Config struct {
	SignalURL   string
	STUNServers []string

	ChunkSize         int
	ChunkInterval     time.Duration
	ProgressInterval  time.Duration
	HeartbeatInterval time.Duration
	CompletionPoll    time.Duration
	CompletionRetries int
	DialGrace         time.Duration

	AutoAccept   bool
	HistoryLimit int
	DownloadDir  string
	DatabasePath string
}

func Default() Config {
	signalURL := DefaultSignalURL
	if v := os.Getenv(SignalURLEnv); v != "" {
		signalURL = v
	}

	return Config{
		SignalURL:         signalURL,
		STUNServers:       append([]string(nil), defaultSTUNServers...),
		ChunkSize:         DefaultChunkSize,
		ChunkInterval:     DefaultChunkInterval,
		ProgressInterval:  DefaultProgressInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		CompletionPoll:    DefaultCompletionPoll,
		CompletionRetries: DefaultCompletionRetries,
		DialGrace:         DefaultDialGrace,
		AutoAccept:        true,
		HistoryLimit:      DefaultHistoryLimit,
		DownloadDir:       "downloads",
		DatabasePath:      "peer-mesh.sqlite3",
	}
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size must be in (0, %d], got %d", MaxChunkSize, c.ChunkSize)
	}
	if c.ChunkInterval < 0 {
		return errors.New("chunk interval must not be negative")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.CompletionRetries < 0 {
		return errors.New("completion retries must not be negative")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	return nil
}

func (c Config) ICEConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: c.STUNServers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func DefaultSTUNConfig() webrtc.Configuration {
	return Default().ICEConfig()
}

func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	protocolName := "peer-mesh"
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}
