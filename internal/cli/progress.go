package cli

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-mesh/internal/session"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transfer"
	"github.com/schollz/progressbar/v3"
)

// progressView prints session notifications and keeps one progress bar per
// running transfer.
type progressView struct {
	out  *console
	bars map[string]*progressbar.ProgressBar
}

func newProgressView(out io.Writer) *progressView {
	c, ok := out.(*console)
	if !ok {
		c = &console{w: out}
	}
	return &progressView{out: c, bars: make(map[string]*progressbar.ProgressBar)}
}

// follow renders notifications until the channel is closed.
func (v *progressView) follow(notes <-chan session.Notification) {
	for n := range notes {
		v.render(n)
	}
	for id := range v.bars {
		v.drop(id)
	}
}

func (v *progressView) render(n session.Notification) {
	switch n.Kind {
	case session.PeerJoined:
		v.out.Printf("* %s joined\n", n.Nickname)
	case session.PeerLeft:
		v.out.Printf("* %s left\n", n.Nickname)
	case session.LinkFailed:
		v.out.Printf("* connection to %s failed: %v\n", n.Nickname, n.Err)
	case session.ChatReceived:
		v.out.Printf("%s: %s\n", n.Chat.SenderNickname, n.Chat.Content)
	case session.TransferOffered:
		v.out.Printf("* %s offers %s (%s), /accept %s or /decline %s\n",
			n.Offer.Nickname, n.Offer.FileName, humanize.Bytes(uint64(n.Offer.Size)), n.Offer.TransferID, n.Offer.TransferID)
	case session.TransferProgress:
		v.progress(n.Progress)
	case session.TransferCompleted:
		v.drop(n.Record.TransferID)
		if n.Record.Direction == transfer.DirectionReceived {
			v.out.Printf("* received %s (%s) saved to %s\n", n.Record.FileName, humanize.Bytes(uint64(n.Record.Size)), n.Record.Path)
		} else {
			v.out.Printf("* sent %s (%s)\n", n.Record.FileName, humanize.Bytes(uint64(n.Record.Size)))
		}
	case session.TransferEnded:
		v.drop(n.Ended.TransferID)
		v.out.Printf("* %s %s: %s\n", n.Ended.Direction, n.Ended.FileName, n.Ended.Reason)
	}
}

func (v *progressView) progress(p transfer.Progress) {
	if p.Total <= 0 {
		return
	}
	bar, ok := v.bars[p.TransferID]
	if !ok {
		verb := "sending"
		if p.Direction == transfer.DirectionReceived {
			verb = "receiving"
		}
		bar = progressbar.NewOptions64(p.Total,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetDescription(verb+" "+p.FileName),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		v.bars[p.TransferID] = bar
	}
	_ = bar.Set64(p.Bytes)
}

func (v *progressView) drop(id string) {
	bar, ok := v.bars[id]
	if !ok {
		return
	}
	_ = bar.Finish()
	delete(v.bars, id)
}
