// Package cli implements the peer-mesh command line: hosting and joining
// rooms, an interactive prompt, and the signaling server.
package cli

import (
	"fmt"
	"os"

	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	signalURL    string
	nickname     string
	downloadDir  string
	databasePath string
	chunkSize    int
	manualAccept bool
	noHistory    bool
	verbose      bool
}

func NewRootCmd() *cobra.Command {
	defaults := config.Default()
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "peer-mesh",
		Short:         "peer to peer file transfer and chat",
		Long:          `peer-mesh shares files and messages directly between everyone in a room`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.signalURL, "signal", defaults.SignalURL, "signaling server url (env "+config.SignalURLEnv+")")
	pf.StringVarP(&flags.nickname, "nickname", "n", "", "name shown to other peers")
	pf.StringVar(&flags.downloadDir, "download-dir", defaults.DownloadDir, "directory received files are written to")
	pf.StringVar(&flags.databasePath, "db", defaults.DatabasePath, "sqlite database for transfer and chat history")
	pf.IntVar(&flags.chunkSize, "chunk-size", defaults.ChunkSize, "bytes per file chunk")
	pf.BoolVar(&flags.manualAccept, "manual-accept", false, "ask before saving incoming files")
	pf.BoolVar(&flags.noHistory, "no-history", false, "do not persist history")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log protocol traffic")

	root.AddCommand(newHostCmd(flags))
	root.AddCommand(newJoinCmd(flags))
	root.AddCommand(NewSignalCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (f *globalFlags) config() (config.Config, error) {
	cfg := config.Default()
	cfg.SignalURL = f.signalURL
	cfg.DownloadDir = f.downloadDir
	cfg.DatabasePath = f.databasePath
	cfg.ChunkSize = f.chunkSize
	cfg.AutoAccept = !f.manualAccept
	if f.noHistory {
		cfg.DatabasePath = ""
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (f *globalFlags) logger() *logrus.Logger {
	level := logrus.InfoLevel
	if f.verbose {
		level = logrus.DebugLevel
	}
	return logger.New(os.Stderr, level)
}

func newHostCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "create a room",
		Long:  `create a new room and wait for peers to join it`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoom(cmd, flags, "")
		},
	}
}

func newJoinCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join room-id",
		Short: "join a room",
		Long:  `join an existing room by the id its host shared`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoom(cmd, flags, args[0])
		},
	}
}
