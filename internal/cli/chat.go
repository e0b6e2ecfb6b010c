// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigloop/internal/backend"
	"github.com/jeranaias/rigloop/internal/chat"
	"github.com/jeranaias/rigloop/internal/config"
	"github.com/jeranaias/rigloop/internal/model"
	"github.com/jeranaias/rigloop/internal/notify"
	"github.com/jeranaias/rigloop/internal/toolfmt"
	"github.com/jeranaias/rigloop/internal/toolparse"
	"github.com/jeranaias/rigloop/internal/transport"
	"github.com/jeranaias/rigloop/internal/util"
	"github.com/jeranaias/rigloop/internal/watcher"
)

// chatOptions are the chat command's flags.
type chatOptions struct {
	conversationID string
	watch          bool
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var (
		convID  string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

Tool calls in the model's replies run automatically and their results are
sent back until the model answers without tools, or a safety limit stops the
loop.

Interactive commands:
  /help        show commands
  /cancel      stop the running turn
  /status      conversation, tool loop and watcher state
  /clear       clear the local transcript
  /quit        exit (also Ctrl+D)
  Ctrl+C       cancel the current reply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return runChat(cmd.Context(), a, chatOptions{conversationID: convID, watch: !noWatch}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&convID, "conversation", "", "resume an existing backend conversation")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not follow updates made by other clients")
	return cmd
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and releases the terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter prints assistant tokens as they arrive with tool markup
// removed. Only text that extends what was already printed is written, so
// a tool call that starts mid-reply never reaches the screen.
type streamPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	tags  toolfmt.ToolTags
	id    string
	strip *toolparse.Stream
	open  bool
}

func newStreamPrinter(out io.Writer, tags toolfmt.ToolTags) *streamPrinter {
	return &streamPrinter{out: out, tags: tags}
}

// Token handles one token of message id.
func (p *streamPrinter) Token(id, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id != p.id || p.strip == nil {
		p.endLocked()
		p.id = id
		p.strip = toolparse.NewStream(p.tags)
	}
	if delta := p.strip.Write(token); delta != "" {
		fmt.Fprint(p.out, delta)
		p.open = true
	}
}

// End terminates the current streamed line.
func (p *streamPrinter) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLocked()
	p.id = ""
}

// Line prints s on its own line.
func (p *streamPrinter) Line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLocked()
	fmt.Fprintln(p.out, s)
}

func (p *streamPrinter) endLocked() {
	if p.open {
		fmt.Fprintln(p.out)
		p.open = false
	}
}

// =============================================================================
// CHAT LOOP
// =============================================================================

// chatShell is a running chat: the session plus what prints around it.
type chatShell struct {
	sess    *chat.Session
	watch   *watcher.Watcher
	status  *backend.ModelStatus
	printer *streamPrinter
	out     io.Writer
}

func runChat(ctx context.Context, a *app, opts chatOptions, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := a.backendClient()
	status := a.modelStatus(ctx, client)
	rec, err := a.recorder()
	if err != nil {
		return err
	}

	tags := a.tags(status)
	printer := newStreamPrinter(out, tags)
	notices := notify.NewChannel(64, a.log)
	parser := toolparse.DefaultRegistry()
	parser.SetLogger(a.log)

	tr := transport.New(
		transport.WSDialer{URL: a.cfg.StreamURL()},
		client,
		transport.WithConnectTimeout(a.cfg.ConnectTimeout()),
		transport.WithLogger(a.log),
	)
	sess := chat.New(model.NewConversationWithID(opts.conversationID), tr, a.executor(client),
		chat.WithParser(parser),
		chat.WithLimits(a.limits()),
		chat.WithNotifier(notices),
		chat.WithRecorder(rec),
		chat.WithLogger(a.log),
		chat.WithTags(tags),
		chat.WithTokenHandler(printer.Token),
		chat.WithContextSize(func() int {
			if status == nil {
				return 0
			}
			return status.MaxContext
		}),
		chat.WithConversationID(opts.conversationID),
	)

	sh := &chatShell{sess: sess, status: status, printer: printer, out: out}
	if opts.watch && a.cfg.Watcher.Enabled {
		sh.watch = newWatcher(a, sess, printer)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case n := <-notices.C():
				printer.Line(RenderNotice(n))
			}
		}
	})
	if sh.watch != nil {
		g.Go(func() error {
			sh.watch.Run(gctx)
			return nil
		})
	}

	err = sh.repl(ctx, a)

	sess.Cancel()
	sess.Wait()
	cancel()
	g.Wait()
	return err
}

// newWatcher builds the conversation watcher for the configured source.
func newWatcher(a *app, sess *chat.Session, printer *streamPrinter) *watcher.Watcher {
	wc := a.cfg.Watcher
	var src watcher.Source
	if wc.Source == "file" {
		src = &watcher.FileSource{Path: wc.LogPath, Debounce: time.Duration(wc.DebounceMs) * time.Millisecond}
	} else {
		src = &watcher.WSSource{URL: a.cfg.WatchURL()}
	}
	return watcher.New(src, sess,
		watcher.WithGate(sess.Gate()),
		watcher.WithBackoff(time.Duration(wc.BaseBackoffMs)*time.Millisecond, time.Duration(wc.MaxBackoffMs)*time.Millisecond),
		watcher.WithConversationID(sess.ConversationID),
		watcher.WithLogger(a.log),
		watcher.WithStateHandler(func(s watcher.ConnState) {
			printer.Line(DimStyle.Render("[watch] " + s.String()))
		}),
	)
}

func (sh *chatShell) repl(ctx context.Context, a *app) error {
	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C during a reply arrives as a signal; at the prompt liner reads it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		for range sigCh {
			if sh.sess.Cancel() {
				sh.printer.Line(WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	if IsTTY() {
		sh.printWelcome(a)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := input.ReadInput(PromptStyle.Render("rigloop> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or closed stdin.
			fmt.Fprintln(sh.out)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := sh.handleSlash(line); quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}
		sh.send(ctx, a, line)
	}
}

// send runs one user turn and reports how it ended.
func (sh *chatShell) send(ctx context.Context, a *app, text string) {
	err := sh.sess.SendUserMessage(ctx, text)
	sh.printer.End()

	switch {
	case err == nil:
		if msg, ok := sh.sess.Conversation().LastAssistant(); ok {
			if stats := msg.FormatStats(); stats != "" {
				sh.printer.Line(DimStyle.Render(stats))
			}
		}
	case errors.Is(err, chat.ErrCancelled):
		// Printed by the signal handler or /cancel.
	case errors.Is(err, chat.ErrBusy):
		sh.printer.Line(WarningStyle.Render("A tool loop is still running. Use /cancel to stop it."))
	default:
		// Already surfaced as a notice.
		a.log.V(1).Info("TURN_FAILED", "error", err.Error())
	}
}

// handleSlash runs an interactive command. It returns true to exit.
func (sh *chatShell) handleSlash(line string) bool {
	cmd := strings.ToLower(strings.Fields(line)[0])
	switch cmd {
	case "/quit", "/q", "/exit":
		return true
	case "/help", "/h":
		sh.printer.Line(strings.Join([]string{
			"/cancel   stop the running turn",
			"/status   conversation, tool loop and watcher state",
			"/clear    clear the local transcript",
			"/save F   write the transcript to F in log format",
			"/quit     exit",
		}, "\n"))
	case "/cancel":
		if sh.sess.Cancel() {
			sh.printer.Line(WarningStyle.Render("[Cancelled]"))
		} else {
			sh.printer.Line(DimStyle.Render("Nothing to cancel."))
		}
	case "/clear":
		if sh.sess.Busy() {
			sh.printer.Line(WarningStyle.Render("Cannot clear while a turn is running."))
			return false
		}
		sh.sess.Conversation().Clear()
		sh.printer.Line(DimStyle.Render("Transcript cleared."))
	case "/status":
		sh.printer.Line(sh.statusText())
	case "/save":
		fields := strings.Fields(line)
		if len(fields) < 2 {
			sh.printer.Line(ErrorStyle.Render("Usage: /save FILE"))
			return false
		}
		if err := saveTranscript(sh.sess.Conversation(), fields[1]); err != nil {
			sh.printer.Line(ErrorStyle.Render("Save failed: ") + err.Error())
			return false
		}
		sh.printer.Line(DimStyle.Render("Saved to " + fields[1]))
	default:
		sh.printer.Line(ErrorStyle.Render("Unknown command: ") + cmd + DimStyle.Render(" (try /help)"))
	}
	return false
}

// saveTranscript writes the conversation in the log format a file-source
// watcher reads, so a saved transcript can be followed or resumed.
func saveTranscript(conv *model.Conversation, path string) error {
	return util.AtomicWriteFile(path, []byte(model.FormatLog(conv.Snapshot())), 0600)
}

// statusPreviewLen bounds the last-message preview in /status.
const statusPreviewLen = 60

func (sh *chatShell) statusText() string {
	conv := sh.sess.Conversation()
	used, maxTokens := conv.Usage()
	state := sh.sess.Controller().State()
	limits := sh.sess.Controller().Limits()

	convID := sh.sess.ConversationID()
	if convID == "" {
		convID = "(not assigned yet)"
	}
	lines := []string{
		RenderField("Conversation", convID),
		RenderField("Messages", fmt.Sprintf("%d", conv.Len())),
		RenderField("Context", fmt.Sprintf("%d / %d tokens (%.0f%%)", used, maxTokens, conv.ContextPercent())),
		RenderField("Tool iterations", fmt.Sprintf("%d / %d", state.IterationCount, limits.MaxIterations)),
		RenderField("Tool tags", sh.sess.Tags().ExecOpen+" ... "+sh.sess.Tags().ExecClose),
	}
	if msgs := conv.Snapshot(); len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		preview := strings.Join(strings.Fields(last.Preview(statusPreviewLen)), " ")
		lines = append(lines, RenderField("Last message", last.Role.DisplayName()+": "+preview))
	}
	if sh.watch != nil {
		st := sh.watch.Stats()
		lines = append(lines, RenderField("Watcher", fmt.Sprintf("%s (applied %d, suppressed %d, reconnects %d)",
			sh.watch.State(), st.Applied, st.Suppressed, st.Reconnects)))
	}
	return strings.Join(lines, "\n")
}

func (sh *chatShell) printWelcome(a *app) {
	modelName := "unknown (backend status unavailable)"
	if sh.status != nil && sh.status.Model != "" {
		modelName = sh.status.Model
	}
	fmt.Fprintln(sh.out, TitleStyle.Render("rigloop chat"))
	fmt.Fprintln(sh.out, RenderField("Backend", a.cfg.Backend.URL))
	fmt.Fprintln(sh.out, RenderField("Model", modelName))
	fmt.Fprintln(sh.out, RenderField("Tools", a.cfg.Tools.Mode))
	fmt.Fprintln(sh.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(sh.out)
}
