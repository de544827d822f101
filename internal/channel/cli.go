package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. Streamed
// replies render incrementally as snapshots arrive.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}

	renderMu  sync.Mutex
	rendered  string // prefix of the in-flight reply already on the terminal
	streaming bool
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until the input ends, the user
// quits, or the context is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", c.handleOutbound)

	_, _ = fmt.Fprintln(c.out, "RelayBot CLI. Type a message, or a relay command like \"check my email\". Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.stopSpinner()
			return nil
		case raw, ok := <-lines:
			if !ok {
				c.stopSpinner()
				return scanner.Err() // EOF returns nil
			}
			line := strings.TrimSpace(raw)
			if line == "" {
				_, _ = fmt.Fprint(c.out, "You> ")
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}

			c.startSpinner()
			c.bus.Publish(domain.InboundMessage{
				Channel:   "cli",
				ChatID:    "direct",
				SenderID:  "user",
				Content:   line,
				Timestamp: time.Now(),
			})
		}
	}
}

func (c *CLI) handleOutbound(msg domain.OutboundMessage) {
	evt := msg.StreamEvent
	if evt == nil {
		c.stopSpinner()
		c.renderMu.Lock()
		defer c.renderMu.Unlock()
		_, _ = fmt.Fprintf(c.out, "\n%s\nYou> ", msg.Content)
		return
	}

	switch evt.Type {
	case domain.StreamThinking:
		// Spinner has been running since the turn was published.
	case domain.StreamSnapshot:
		c.stopSpinner()
		c.render(evt.Content, false)
	case domain.StreamDone:
		c.stopSpinner()
		content := evt.Content
		if content == "" {
			content = msg.Content
		}
		c.render(content, true)
	case domain.StreamError:
		c.stopSpinner()
		c.render(evt.Content, true)
	}
}

// render prints a reply snapshot. Snapshots carry the full text accumulated
// so far, so only the suffix beyond what is already on the terminal gets
// written. A snapshot that does not extend the rendered text (an error
// replacing partial output) starts over on a fresh line.
func (c *CLI) render(full string, done bool) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	if !c.streaming {
		_, _ = fmt.Fprintln(c.out, "--- RelayBot ---")
		c.streaming = true
		c.rendered = ""
	}

	if strings.HasPrefix(full, c.rendered) {
		_, _ = fmt.Fprint(c.out, full[len(c.rendered):])
	} else {
		_, _ = fmt.Fprint(c.out, "\n"+full)
	}
	c.rendered = full

	if done {
		_, _ = fmt.Fprintln(c.out)
		_, _ = fmt.Fprintln(c.out, strings.Repeat("-", 24))
		_, _ = fmt.Fprint(c.out, "You> ")
		c.streaming = false
		c.rendered = ""
	}
}

func (c *CLI) startSpinner() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s working on it", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopSpinner() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	_, _ = fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
}

// Stop has nothing to tear down; the session ends when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	_, err := fmt.Fprintln(c.out, content)
	return err
}
