package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"openbridge/internal/bus"
	"openbridge/internal/domain"
)

// TurnProcessor is the part of the bridge the REPL drives.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, msg domain.InboundMessage) error
	Flush()
	Start()
	Stop()
}

// CLI is an interactive terminal front end for the bridge. Files queued
// with /attach are sent with the next message.
type CLI struct {
	bridge  TurnProcessor
	results <-chan bus.Result
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	pending []domain.Attachment
	spinner *spinner // nil when disabled
}

type CLIConfig struct {
	Bridge  TurnProcessor
	Results <-chan bus.Result // fed by the bridge's sink
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	c := &CLI{
		bridge:  cfg.Bridge,
		results: cfg.Results,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
	}
	if cfg.Spinner {
		c.spinner = &spinner{out: cfg.Out}
	}
	return c
}

// Run runs the interactive REPL and blocks until EOF, /quit or ctx is done.
func (c *CLI) Run(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "openbridge chat. Type a message and press Enter. /attach <file> queues a file, /reset starts over, /quit exits.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			c.prompt()
			continue
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case line == "/reset":
			c.bridge.Stop()
			c.bridge.Start()
			c.pending = nil
			_, _ = fmt.Fprintln(c.out, "(conversation reset)")
			c.prompt()
			continue
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			att, err := LoadAttachment(path)
			if err != nil {
				_, _ = fmt.Fprintf(c.out, "cannot attach: %v\n", err)
			} else {
				c.pending = append(c.pending, att)
				_, _ = fmt.Fprintf(c.out, "(queued %s, %s, %d bytes)\n", att.Name, att.MimeType, len(att.Data))
			}
			c.prompt()
			continue
		}

		msg := domain.InboundMessage{Text: line, Attachments: c.pending}
		c.pending = nil
		c.turn(ctx, msg)
		c.prompt()
	}
}

func (c *CLI) turn(ctx context.Context, msg domain.InboundMessage) {
	c.spinner.start()
	err := c.bridge.ProcessTurn(ctx, msg)
	c.bridge.Flush()
	if err != nil {
		// The sink received the same error; drain it so it is not
		// mistaken for the next turn's result.
		c.await()
		c.spinner.stop()
		_, _ = fmt.Fprintf(c.out, "\r\033[Kerror: %v\n", err)
		return
	}
	r, ok := c.await()
	c.spinner.stop()
	switch {
	case !ok:
		_, _ = fmt.Fprintln(c.out, "\r\033[K(no reply)")
	case r.Err != nil:
		_, _ = fmt.Fprintf(c.out, "\r\033[Kerror: %v\n", r.Err)
	default:
		_, _ = fmt.Fprint(c.out, "\r\033[K")
		_, _ = fmt.Fprint(c.out, Render(r.Message))
	}
}

// await takes the flushed sink result, if the turn produced one.
func (c *CLI) await() (bus.Result, bool) {
	select {
	case r := <-c.results:
		return r, true
	default:
		return bus.Result{}, false
	}
}

func (c *CLI) prompt() {
	_, _ = fmt.Fprint(c.out, "You> ")
}

// Render formats an outbound message for the terminal.
func Render(msg *domain.OutboundMessage) string {
	var sb strings.Builder
	sb.WriteString("--- bot ---\n")
	sb.WriteString(msg.Text)
	sb.WriteString("\n")
	for _, b := range msg.Buttons {
		fmt.Fprintf(&sb, "  [%s] -> %s\n", b.Text, b.Payload)
	}
	for _, m := range msg.Media {
		fmt.Fprintf(&sb, "  media: %s (%s)\n", m.MediaURI, m.MimeType)
	}
	for _, card := range msg.Cards {
		fmt.Fprintf(&sb, "  card: %s / %s\n", card.Title, card.Subtitle)
		for _, b := range card.Buttons {
			fmt.Fprintf(&sb, "    [%s] -> %s\n", b.Text, b.Payload)
		}
	}
	for _, a := range msg.Attachments {
		fmt.Fprintf(&sb, "  attachment: %s (%s, %d base64 chars)\n", a.Name, a.MimeType, len(a.Base64))
	}
	if msg.Intent != "" {
		fmt.Fprintf(&sb, "  intent: %s\n", msg.Intent)
	}
	sb.WriteString("-----------\n")
	return sb.String()
}
