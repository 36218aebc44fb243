package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"openbridge/internal/attachment"
	"openbridge/internal/bus"
	"openbridge/internal/config"
	"openbridge/internal/domain"
	"openbridge/internal/metrics"
	"openbridge/internal/provider"
	"openbridge/internal/redact"
	"openbridge/internal/tool"
)

const cleanupTimeout = 30 * time.Second

// ErrNotBuilt is returned by ProcessTurn before Build or after Teardown.
var ErrNotBuilt = errors.New("bridge is not built")

// ProviderFactory creates the provider client for a resolved configuration.
type ProviderFactory func(cfg *config.Config, logger *slog.Logger) domain.Provider

// Options holds the host collaborators of a Bridge.
type Options struct {
	Sink        domain.Sink
	Logger      *slog.Logger
	Metrics     *metrics.BridgeMetrics // defaults to metrics.Default
	NewProvider ProviderFactory        // defaults to the OpenAI client
}

// Bridge turns inbound harness messages into Responses API calls and emits
// one normalized outbound message (or one error) per turn. Turns must not
// run concurrently.
type Bridge struct {
	cfg         *config.Config
	provider    domain.Provider
	encoder     *attachment.Encoder
	tools       *tool.Registry
	emitter     *bus.Emitter
	newProvider ProviderFactory
	logger      *slog.Logger
	metrics     *metrics.BridgeMetrics

	// previousResponseID links the next turn to the last successful response.
	previousResponseID string
}

func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	if opts.NewProvider == nil {
		opts.NewProvider = newOpenAI
	}
	return &Bridge{
		emitter:     bus.NewEmitter(opts.Sink, opts.Logger),
		newProvider: opts.NewProvider,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

func newOpenAI(cfg *config.Config, logger *slog.Logger) domain.Provider {
	return provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:            cfg.APIKey,
		APIBase:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMin,
		Logger:            logger,
	})
}

// Validate checks a capability bag without building anything.
func (b *Bridge) Validate(caps config.Caps) error {
	_, err := config.FromCaps(caps)
	return err
}

// Build resolves the configuration and creates the provider client.
func (b *Bridge) Build(caps config.Caps) error {
	cfg, err := config.FromCaps(caps)
	if err != nil {
		return err
	}
	if b.provider != nil {
		b.provider.Close()
	}

	b.cfg = cfg
	b.provider = b.newProvider(cfg, b.logger)
	b.encoder = attachment.NewEncoder(b.provider, cfg.AttachmentMode, b.logger)
	b.tools = tool.NewRegistry(b.logger)
	b.tools.Register(tool.NewSpreadsheetTool())
	b.previousResponseID = ""

	b.logger.Info("bridge built",
		"provider", b.provider.Name(),
		"model", cfg.Model,
		"attachment_mode", cfg.AttachmentMode,
		"structured_output", cfg.StructuredOutput,
	)
	return nil
}

// Start begins a new conversation.
func (b *Bridge) Start() {
	b.previousResponseID = ""
}

// Stop ends the current conversation.
func (b *Bridge) Stop() {
	b.previousResponseID = ""
}

// Teardown waits for pending sink deliveries and releases the provider
// client. The bridge cannot process turns afterwards.
func (b *Bridge) Teardown() {
	b.emitter.Close()
	if b.provider != nil {
		b.provider.Close()
		b.provider = nil
	}
}

// Flush blocks until every outcome handed to the sink has been delivered.
func (b *Bridge) Flush() {
	b.emitter.Wait()
}

// PreviousResponseID returns the identifier the next turn will link to.
func (b *Bridge) PreviousResponseID() string {
	return b.previousResponseID
}

// Config returns the resolved configuration, or nil before Build.
func (b *Bridge) Config() *config.Config {
	return b.cfg
}

// ProcessTurn runs one turn. The outcome is handed to the sink
// asynchronously; a failure is also returned. Sink calls arrive in turn
// order; call Flush before reading shared state the sink writes.
func (b *Bridge) ProcessTurn(ctx context.Context, msg domain.InboundMessage) (err error) {
	if b.provider == nil {
		return ErrNotBuilt
	}

	turnID := uuid.Must(uuid.NewV7()).String()
	logger := b.logger.With("turn_id", turnID)
	start := time.Now()
	b.metrics.Turns.Inc()
	logger.Info("processing turn",
		"text_len", len(msg.Text),
		"attachments", len(msg.Attachments),
		"previous_response_id", b.previousResponseID,
	)

	var uploads attachment.Uploads
	defer func() {
		b.cleanup(ctx, logger, uploads.IDs())
		b.metrics.TurnLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			b.metrics.TurnFailures.Inc()
			logger.Error("turn failed", "error", err)
			b.emitter.Fail(err)
		}
	}()

	parts, err := b.buildContent(ctx, logger, msg, &uploads)
	if err != nil {
		return err
	}

	primary, err := b.createResponse(ctx, logger,
		BuildRequest([]domain.InputItem{domain.UserMessage(parts)}, b.previousResponseID, b.cfg))
	if err != nil {
		return fmt.Errorf("primary response: %w", err)
	}
	b.previousResponseID = primary.ID

	produced, outputs := b.runTools(ctx, logger, primary)

	final := primary
	if len(outputs) > 0 {
		followUp, err := b.createResponse(ctx, logger, BuildRequest(outputs, primary.ID, b.cfg))
		if err != nil {
			return fmt.Errorf("follow-up response: %w", err)
		}
		b.previousResponseID = followUp.ID
		final = followUp
	}

	out := b.parseOutput(logger, final, produced)
	if out == nil {
		logger.Info("turn produced no reply")
		return nil
	}
	b.emitter.Deliver(out)
	logger.Info("turn completed",
		"response_id", final.ID,
		"structured", out.HasStructure(),
		"duration", time.Since(start),
	)
	return nil
}

// buildContent returns the user text part followed by one part per usable
// attachment. Only an upload failure is fatal.
func (b *Bridge) buildContent(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, uploads *attachment.Uploads) ([]domain.ContentPart, error) {
	var parts []domain.ContentPart
	if msg.Text != "" {
		parts = append(parts, domain.ContentPart{Type: domain.PartInputText, Text: msg.Text})
	}
	for _, att := range msg.Attachments {
		part, disposition, err := b.encoder.Encode(ctx, att, uploads)
		if err != nil {
			return nil, err
		}
		if disposition == attachment.ImageUploaded {
			b.metrics.Uploads.Inc()
		}
		if part != nil {
			parts = append(parts, *part)
		}
	}
	if len(parts) == 0 {
		// The API rejects a message without content.
		parts = append(parts, domain.ContentPart{Type: domain.PartInputText, Text: ""})
	}
	return parts, nil
}

func (b *Bridge) createResponse(ctx context.Context, logger *slog.Logger, req domain.ResponseRequest) (*domain.Response, error) {
	b.metrics.ProviderRequests.Inc()
	start := time.Now()
	resp, err := b.provider.CreateResponse(ctx, req)
	b.metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if resp.Usage != nil {
		b.metrics.InputTokens.Add(int64(resp.Usage.InputTokens))
		b.metrics.OutputTokens.Add(int64(resp.Usage.OutputTokens))
	}
	logger.Debug("response received",
		"response_id", resp.ID,
		"status", resp.Status,
		"tool_calls", len(resp.ToolCalls()),
		"latency", time.Since(start),
	)
	return resp, nil
}

// runTools executes the tool calls of resp. It returns the produced
// attachments and one empty function_call_output per successful call; the
// artifact itself is never sent back to the model.
func (b *Bridge) runTools(ctx context.Context, logger *slog.Logger, resp *domain.Response) ([]domain.OutboundAttachment, []domain.InputItem) {
	var produced []domain.OutboundAttachment
	var outputs []domain.InputItem

	for _, tc := range resp.ToolCalls() {
		if b.tools.Get(tc.Name) == nil {
			logger.Warn("ignoring unsupported tool call", "tool", tc.Name, "call_id", tc.ID)
			continue
		}
		b.metrics.ToolCalls.Inc()

		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			b.metrics.ToolFailures.Inc()
			logger.Warn("dropping tool call with invalid arguments", "tool", tc.Name, "call_id", tc.ID, "error", err)
			continue
		}
		if logger.Enabled(ctx, slog.LevelDebug) {
			if raw, err := json.Marshal(redact.Any(args)); err == nil {
				logger.Debug("tool arguments", "tool", tc.Name, "args", string(raw))
			}
		}

		data, err := b.tools.Execute(ctx, tc.Name, args)
		if err != nil {
			b.metrics.ToolFailures.Inc()
			logger.Warn("dropping failed tool call", "tool", tc.Name, "call_id", tc.ID, "error", err)
			continue
		}

		produced = append(produced, domain.OutboundAttachment{
			Name:     tool.SpreadsheetFileName,
			MimeType: tool.SpreadsheetMimeType,
			Base64:   data,
		})
		outputs = append(outputs, domain.FunctionCallOutput(tc.ID, ""))
		logger.Info("tool executed", "tool", tc.Name, "call_id", tc.ID, "size", len(data))
	}
	return produced, outputs
}

// parseOutput builds the outbound message, or nil when there is nothing
// to emit.
func (b *Bridge) parseOutput(logger *slog.Logger, resp *domain.Response, produced []domain.OutboundAttachment) *domain.OutboundMessage {
	text := resp.Text()
	source := sourceData(resp)

	if b.cfg.StructuredOutput {
		reply, err := parseStructuredReply(text)
		if err == nil {
			out := reply.toOutbound(produced)
			out.SourceData = source
			return out
		}
		logger.Warn("structured output not parsed, falling back to plain text", "error", err)
	}

	if text == "" {
		if len(produced) > 0 {
			logger.Warn("reply has no text, dropping tool attachments", "attachments", len(produced))
		}
		return nil
	}
	return &domain.OutboundMessage{
		Sender:      domain.SenderBot,
		Text:        text,
		Attachments: produced,
		SourceData:  source,
	}
}

// sourceData is the redacted raw provider response.
func sourceData(resp *domain.Response) any {
	if len(resp.Raw) == 0 {
		return redact.Any(resp)
	}
	v, err := redact.ParseJSON(resp.Raw)
	if err != nil {
		return nil
	}
	return redact.Redact(v)
}

// cleanup deletes every uploaded file independently. It runs even when the
// turn's context is already cancelled.
func (b *Bridge) cleanup(ctx context.Context, logger *slog.Logger, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, id := range ids {
		if err := b.provider.DeleteFile(ctx, id); err != nil {
			b.metrics.DeleteFailures.Inc()
			logger.Warn("failed to delete uploaded file", "file_id", id, "error", err)
			continue
		}
		b.metrics.Deletes.Inc()
	}
}
