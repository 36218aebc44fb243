package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbridge/internal/bus"
	"openbridge/internal/domain"
)

// fakeBridge replies synchronously through a ChannelSink.
type fakeBridge struct {
	sink   domain.Sink
	turns  []domain.InboundMessage
	resets int
	reply  func(msg domain.InboundMessage) (*domain.OutboundMessage, error)
}

func (f *fakeBridge) ProcessTurn(ctx context.Context, msg domain.InboundMessage) error {
	f.turns = append(f.turns, msg)
	out, err := f.reply(msg)
	if err != nil {
		f.sink(nil, err)
		return err
	}
	if out != nil {
		f.sink(out, nil)
	}
	return nil
}

func (f *fakeBridge) Flush() {}
func (f *fakeBridge) Start() {}
func (f *fakeBridge) Stop()  { f.resets++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runCLI(t *testing.T, fb *fakeBridge, input string) string {
	t.Helper()
	cs := bus.NewChannelSink(4, testLogger())
	fb.sink = cs.Sink()
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{
		Bridge:  fb,
		Results: cs.Results(),
		Logger:  testLogger(),
		In:      strings.NewReader(input),
		Out:     &out,
	})
	require.NoError(t, cli.Run(context.Background()))
	return out.String()
}

func TestCLI_PrintsReply(t *testing.T) {
	fb := &fakeBridge{reply: func(msg domain.InboundMessage) (*domain.OutboundMessage, error) {
		return &domain.OutboundMessage{Text: "echo: " + msg.Text, Buttons: []domain.Button{{Text: "Again", Payload: "again"}}}, nil
	}}
	out := runCLI(t, fb, "hello\n/quit\nignored\n")

	assert.Contains(t, out, "echo: hello")
	assert.Contains(t, out, "[Again] -> again")
	assert.Len(t, fb.turns, 1)
}

func TestCLI_PrintsError(t *testing.T) {
	fb := &fakeBridge{reply: func(domain.InboundMessage) (*domain.OutboundMessage, error) {
		return nil, errors.New("provider down")
	}}
	out := runCLI(t, fb, "hello\n")
	assert.Contains(t, out, "error: provider down")
}

func TestCLI_NoReply(t *testing.T) {
	fb := &fakeBridge{reply: func(domain.InboundMessage) (*domain.OutboundMessage, error) { return nil, nil }}
	out := runCLI(t, fb, "hello\n")
	assert.Contains(t, out, "(no reply)")
}

func TestCLI_AttachAndReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember"), 0o600))

	fb := &fakeBridge{reply: func(domain.InboundMessage) (*domain.OutboundMessage, error) {
		return &domain.OutboundMessage{Text: "ok"}, nil
	}}
	out := runCLI(t, fb, "/attach "+path+"\nwith file\nwithout file\n/reset\n")

	assert.Contains(t, out, "queued notes.txt")
	require.Len(t, fb.turns, 2)
	require.Len(t, fb.turns[0].Attachments, 1)
	assert.Equal(t, "notes.txt", fb.turns[0].Attachments[0].Name)
	assert.Equal(t, []byte("remember"), fb.turns[0].Attachments[0].Data)
	assert.Empty(t, fb.turns[1].Attachments)
	assert.Equal(t, 1, fb.resets)
	assert.Contains(t, out, "(conversation reset)")
}

func TestCLI_AttachMissingFile(t *testing.T) {
	fb := &fakeBridge{reply: func(domain.InboundMessage) (*domain.OutboundMessage, error) { return nil, nil }}
	out := runCLI(t, fb, "/attach /does/not/exist.png\n")
	assert.Contains(t, out, "cannot attach")
	assert.Empty(t, fb.turns)
}

func TestLoadAttachment_DetectsMime(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(png, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0o600))
	att, err := LoadAttachment(png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.MimeType)

	blob := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(blob, []byte("plain words"), 0o600))
	att, err = LoadAttachment(blob)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(att.MimeType, "text/plain"))
}

func TestRender_Attachments(t *testing.T) {
	out := Render(&domain.OutboundMessage{
		Text:        "sheet",
		Attachments: []domain.OutboundAttachment{{Name: "spreadsheet.xlsx", MimeType: "application/x", Base64: "QUJD"}},
		Intent:      "export",
	})
	assert.Contains(t, out, "attachment: spreadsheet.xlsx (application/x, 4 base64 chars)")
	assert.Contains(t, out, "intent: export")
}
