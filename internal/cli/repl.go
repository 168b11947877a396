package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-mesh/internal/chat"
	"github.com/rudransh-shrivastava/peer-mesh/internal/directory"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transfer"
)

var errQuit = errors.New("quit")

// Session is what the prompt drives; *session.Session implements it.
type Session interface {
	ID() string
	SendFile(ctx context.Context, path string, targets []string) (string, error)
	CancelTransfer(ctx context.Context, id string) error
	AcceptTransfer(ctx context.Context, id string) error
	DeclineTransfer(ctx context.Context, id string) error
	SendChat(ctx context.Context, content string, targets []string) error
	Devices(ctx context.Context) ([]directory.Device, error)
	Transfers(ctx context.Context) ([]transfer.Progress, error)
	Offers(ctx context.Context) ([]transfer.Offer, error)
	History(ctx context.Context) ([]transfer.Record, error)
	ClearHistory(ctx context.Context) error
	ChatLog(ctx context.Context) ([]chat.Message, error)
	Done() <-chan struct{}
}

// console serializes writes from the prompt and the progress view.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

func (c *console) Printf(format string, args ...any) {
	fmt.Fprintf(c, format, args...)
}

type repl struct {
	s   Session
	in  io.Reader
	out *console
}

func newREPL(s Session, in io.Reader, out io.Writer) *repl {
	c, ok := out.(*console)
	if !ok {
		c = &console{w: out}
	}
	return &repl{s: s, in: in, out: c}
}

const helpText = `Commands:
  <text>                      send a message to everyone
  /msg <peer>[,<peer>] <text> send a message to some peers
  /send <path> [peer...]      send a file to everyone or the listed peers
  /cancel <transfer-id>       stop sending a file
  /accept <transfer-id>       save an offered file
  /decline <transfer-id>      refuse an offered file
  /peers                      list devices in the room
  /transfers                  list transfers in flight and pending offers
  /history                    list completed transfers
  /clear                      forget transfer history
  /chat                       show the chat log
  /help                       show this help
  /quit                       leave the room
`

// run reads commands until /quit, end of input, ctx or the session ends.
func (r *repl) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r.out.Printf("Type /help for commands.\n")
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				r.out.Printf("error: %v\n", err)
			}
		case <-r.s.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *repl) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.s.SendChat(ctx, line, nil)
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/help":
		r.out.Printf("%s", helpText)
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/msg":
		return r.msg(ctx, line)
	case "/send":
		return r.send(ctx, args)
	case "/cancel":
		return withID(args, func(id string) error { return r.s.CancelTransfer(ctx, id) })
	case "/accept":
		return withID(args, func(id string) error { return r.s.AcceptTransfer(ctx, id) })
	case "/decline":
		return withID(args, func(id string) error { return r.s.DeclineTransfer(ctx, id) })
	case "/peers":
		return r.peers(ctx)
	case "/transfers":
		return r.transfers(ctx)
	case "/history":
		return r.history(ctx)
	case "/clear":
		if err := r.s.ClearHistory(ctx); err != nil {
			return err
		}
		r.out.Printf("History cleared.\n")
		return nil
	case "/chat":
		return r.chatLog(ctx)
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
}

func withID(args []string, fn func(string) error) error {
	if len(args) != 1 {
		return errors.New("expected one transfer id")
	}
	return fn(args[0])
}

func (r *repl) msg(ctx context.Context, line string) error {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "/msg"))
	names, text, ok := strings.Cut(rest, " ")
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return errors.New("usage: /msg <peer>[,<peer>] <text>")
	}
	targets, err := r.resolve(ctx, strings.Split(names, ","))
	if err != nil {
		return err
	}
	return r.s.SendChat(ctx, text, targets)
}

func (r *repl) send(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /send <path> [peer...]")
	}
	var targets []string
	if len(args) > 1 {
		var err error
		if targets, err = r.resolve(ctx, args[1:]); err != nil {
			return err
		}
	}
	id, err := r.s.SendFile(ctx, args[0], targets)
	if err != nil {
		return err
	}
	r.out.Printf("Sending %s as %s\n", transfer.ExtractFileName(args[0]), id)
	return nil
}

// resolve maps peer ids or nicknames to ids.
func (r *repl) resolve(ctx context.Context, names []string) ([]string, error) {
	devices, err := r.s.Devices(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		id, ok := findDevice(devices, name, r.s.ID())
		if !ok {
			return nil, fmt.Errorf("no peer named %q", name)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no peers given")
	}
	return ids, nil
}

func findDevice(devices []directory.Device, name, self string) (string, bool) {
	for _, d := range devices {
		if d.ID != self && d.ID == name {
			return d.ID, true
		}
	}
	for _, d := range devices {
		if d.ID != self && strings.EqualFold(d.Nickname, name) {
			return d.ID, true
		}
	}
	return "", false
}

func (r *repl) peers(ctx context.Context) error {
	devices, err := r.s.Devices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.ID == r.s.ID() {
			marker = "*"
		}
		r.out.Printf("%s %-20s %s  joined %s\n", marker, d.Nickname, d.ID, humanize.Time(d.JoinedAt))
	}
	return nil
}

func (r *repl) transfers(ctx context.Context) error {
	active, err := r.s.Transfers(ctx)
	if err != nil {
		return err
	}
	offers, err := r.s.Offers(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 && len(offers) == 0 {
		r.out.Printf("No transfers.\n")
		return nil
	}

	sort.Slice(active, func(i, j int) bool { return active[i].TransferID < active[j].TransferID })
	for _, p := range active {
		r.out.Printf("%s %-8s %-24s %5.1f%% of %s\n", p.TransferID, p.Direction, p.FileName, p.Percent, humanize.Bytes(uint64(p.Total)))
	}
	for _, o := range offers {
		r.out.Printf("%s offered  %-24s %s from %s, /accept or /decline\n", o.TransferID, o.FileName, humanize.Bytes(uint64(o.Size)), o.Nickname)
	}
	return nil
}

func (r *repl) history(ctx context.Context) error {
	records, err := r.s.History(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		r.out.Printf("No completed transfers.\n")
		return nil
	}
	for _, rec := range records {
		r.out.Printf("%-8s %-24s %10s  %s  %s\n", rec.Direction, rec.FileName, humanize.Bytes(uint64(rec.Size)), rec.Peer, humanize.Time(rec.At))
	}
	return nil
}

func (r *repl) chatLog(ctx context.Context) error {
	messages, err := r.s.ChatLog(ctx)
	if err != nil {
		return err
	}
	for _, m := range messages {
		r.out.Printf("[%s] %s: %s\n", m.At.Format("15:04"), m.SenderNickname, m.Content)
	}
	return nil
}
