// ABOUTME: Terminal chat client running the send pipeline in-process
// ABOUTME: Streams reply fragments as they arrive and supports /list, /open, /retry, /cancel, /quit

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/samber/lo"

	"github.com/2389/hago/internal/conversation"
	"github.com/2389/hago/internal/reply"
	"github.com/2389/hago/internal/store"
)

// chatPrinter renders updates for the active conversation as a running
// transcript. It is the pipeline's Observer, so it must not block.
type chatPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	localID string
	active  func() string
	names   map[string]string
	printed map[string]int // runes of the current reply already written
	typing  map[string]bool
}

func newChatPrinter(out io.Writer, localID string, active func() string, convs []store.Conversation) *chatPrinter {
	return &chatPrinter{
		out:     out,
		localID: localID,
		active:  active,
		names: lo.SliceToMap(convs, func(c store.Conversation) (string, string) {
			return c.ID, c.Participant.Name
		}),
		printed: make(map[string]int),
		typing:  make(map[string]bool),
	}
}

func (p *chatPrinter) OnUpdate(u *conversation.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := u.ConversationID
	if id != p.active() {
		if u.Final {
			color.New(color.FgHiBlack).Fprintf(p.out, "\n(new message from %s in %s)\n", p.names[id], id)
			p.reset(id)
		}
		return
	}

	if len(u.Messages) == 0 {
		return
	}
	last := u.Messages[len(u.Messages)-1]

	if last.SenderID == p.localID {
		if u.Typing && !p.typing[id] {
			color.New(color.FgHiBlack).Fprintf(p.out, "%s is typing…\n", p.names[id])
			p.typing[id] = true
		}
	} else {
		runes := []rune(last.Text)
		done := p.printed[id]
		if done == 0 && len(runes) > 0 {
			color.New(color.FgCyan).Fprintf(p.out, "%s: ", p.names[id])
		}
		if len(runes) > done {
			fmt.Fprint(p.out, string(runes[done:]))
			p.printed[id] = len(runes)
		}
	}

	if u.Final {
		if p.printed[id] > 0 {
			fmt.Fprintln(p.out)
		}
		outgoing, _, found := lo.FindLastIndexOf(u.Messages, func(m store.Message) bool { return m.SenderID == p.localID })
		if found && outgoing.Status == store.StatusError {
			color.New(color.FgRed).Fprintln(p.out, "✗ not delivered (type /retry to resend)")
		}
		p.reset(id)
	}
}

func (p *chatPrinter) reset(id string) {
	delete(p.printed, id)
	delete(p.typing, id)
}

// chatSession is the REPL state.
type chatSession struct {
	ctrl    *conversation.Controller
	svc     *conversation.Service
	out     io.Writer
	localID string
}

func runChat(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	// Logs go to stderr and only when something is wrong, so they do not
	// interleave with the transcript.
	logCfg := cfg.Logging
	if parseLevel(logCfg.Level) < slog.LevelWarn {
		logCfg.Level = "warn"
	}
	logger := setupLogger(logCfg, os.Stderr)

	var ledger store.Ledger
	if cfg.Database.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer sqlStore.Close()
		ledger = sqlStore
	}

	ctrl := conversation.NewController(cfg.User.ID, ledger, logger)
	seeds := cfg.Seed()
	for _, conv := range seeds {
		if err := ctrl.Add(conv); err != nil {
			return fmt.Errorf("seeding conversations: %w", err)
		}
	}

	source, err := reply.New(ctx, cfg.Reply, logger)
	if err != nil {
		return fmt.Errorf("creating reply source: %w", err)
	}

	printer := newChatPrinter(os.Stdout, cfg.User.ID, ctrl.ActiveID, seeds)
	svc := conversation.New(conversation.Config{
		Directory:    ctrl,
		Finalizer:    ctrl,
		Source:       source,
		LocalUserID:  cfg.User.ID,
		Observer:     printer,
		ReplyTimeout: cfg.Reply.Timeout,
		Logger:       logger,
	})
	defer svc.Close()

	s := &chatSession{ctrl: ctrl, svc: svc, out: os.Stdout, localID: cfg.User.ID}

	startID := seeds[0].ID
	if len(args) > 0 {
		startID = args[0]
	}
	if err := s.open(startID); err != nil {
		return err
	}

	return s.loop(ctx, os.Stdin)
}

// loop reads lines until /quit, EOF, or ctx is cancelled.
func (s *chatSession) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handle(ctx, line)
			if err != nil {
				color.New(color.FgRed).Fprintf(s.out, "%v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/list":
		s.list()
		return false, nil
	case "/open":
		return false, s.open(strings.TrimSpace(arg))
	case "/retry":
		return false, s.retry(ctx)
	case "/cancel":
		if !s.svc.Cancel(s.ctrl.ActiveID()) {
			return false, errors.New("nothing to cancel")
		}
		return false, nil
	case "/help":
		fmt.Fprintln(s.out, "/list  /open <id>  /retry  /cancel  /quit")
		return false, nil
	}

	if strings.HasPrefix(cmd, "/") {
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}

	ticket, err := s.svc.Start(ctx, s.ctrl.ActiveID(), line)
	if err != nil {
		return false, err
	}
	if ticket.Outcome() == conversation.OutcomeIgnoredBusy {
		return false, errors.New("still waiting for the last reply (use /cancel to stop it)")
	}
	return false, nil
}

func (s *chatSession) list() {
	activeID := s.ctrl.ActiveID()
	for _, conv := range s.ctrl.List() {
		marker := "  "
		if conv.ID == activeID {
			marker = color.GreenString("▶ ")
		}
		preview := ""
		if last, ok := conv.LastMessage(); ok {
			preview = fmt.Sprintf("%s  %s", last.Timestamp, truncate(last.Text, 40))
		}
		fmt.Fprintf(s.out, "%s%-8s %-22s %s\n", marker, conv.ID, conv.Participant.Name,
			color.HiBlackString(preview))
	}
}

func (s *chatSession) open(id string) error {
	if id == "" {
		return errors.New("usage: /open <conversation-id>")
	}
	if err := s.ctrl.Select(id); err != nil {
		return err
	}
	conv, err := s.svc.View(id)
	if err != nil {
		return err
	}

	names := map[string]string{s.localID: "You", conv.Participant.ID: conv.Participant.Name}
	color.New(color.FgGreen, color.Bold).Fprintf(s.out, "── %s ──\n", conv.Participant.Name)
	for _, m := range conv.Messages {
		color.New(color.FgHiBlack).Fprintf(s.out, "[%s] ", m.Timestamp)
		color.New(color.FgCyan).Fprintf(s.out, "%s: ", names[m.SenderID])
		fmt.Fprint(s.out, m.Text)
		if m.Status == store.StatusError {
			color.New(color.FgRed).Fprint(s.out, "  ✗")
		}
		fmt.Fprintln(s.out)
	}
	return nil
}

// retry resends the newest failed outgoing message of the active conversation.
func (s *chatSession) retry(ctx context.Context) error {
	id := s.ctrl.ActiveID()
	conv, err := s.ctrl.Get(id)
	if err != nil {
		return err
	}
	failed, _, ok := lo.FindLastIndexOf(conv.Messages, func(m store.Message) bool {
		return m.SenderID == s.localID && m.Status == store.StatusError
	})
	if !ok {
		return errors.New("no failed message to retry")
	}
	ticket, err := s.svc.Retry(ctx, id, failed.ID)
	if err != nil {
		return err
	}
	if ticket.Outcome() == conversation.OutcomeIgnoredBusy {
		return errors.New("still waiting for the last reply")
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
