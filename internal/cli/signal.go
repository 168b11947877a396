package cli

import (
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-mesh/internal/logger"
	"github.com/rudransh-shrivastava/peer-mesh/internal/signal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewSignalCmd runs the signaling server peers register with.
func NewSignalCmd() *cobra.Command {
	var addr string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "run the signaling server",
		Long:  `run the websocket signaling server peers use to find each other`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewLogger()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return signal.NewServer(log).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every signal")
	return cmd
}
