package agent

import (
	"openbridge/internal/config"
	"openbridge/internal/domain"
	"openbridge/internal/tool"
)

// SchemaName is the name the structured-output schema is registered under.
const SchemaName = "botium_response"

// structuredAddendum is appended to the instructions in structured mode.
const structuredAddendum = `Always answer with a single JSON object that matches the botium_response schema.
Put the reply shown to the user in "text". Use "buttons" for quick replies, "media" for images or other media links, "cards" for rich cards and "intent" for the detected user intent.
Use empty arrays and an empty string for fields that do not apply. Leave "attachments" empty unless you have file content to return.`

// BuildRequest assembles the parameters of one response-creation call.
// previousID links the call to the prior response and is omitted when empty.
func BuildRequest(input []domain.InputItem, previousID string, cfg *config.Config) domain.ResponseRequest {
	req := domain.ResponseRequest{
		Model:              cfg.Model,
		Instructions:       instructions(cfg),
		PreviousResponseID: previousID,
		Input:              input,
		Tools:              requestTools(cfg),
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxOutputTokens,
	}
	if len(cfg.Include) > 0 {
		req.Include = append([]string(nil), cfg.Include...)
	}
	if cfg.ReasoningEffort != "" {
		req.Reasoning = &domain.Reasoning{Effort: cfg.ReasoningEffort}
	}
	if cfg.StructuredOutput {
		req.Text = &domain.TextOptions{Format: domain.TextFormat{
			Type:   "json_schema",
			Name:   SchemaName,
			Schema: StructuredSchema(),
			Strict: true,
		}}
	}
	return req
}

func instructions(cfg *config.Config) string {
	if !cfg.StructuredOutput {
		return cfg.SystemPrompt
	}
	if cfg.SystemPrompt == "" {
		return structuredAddendum
	}
	return cfg.SystemPrompt + "\n\n" + structuredAddendum
}

// requestTools always offers the spreadsheet tool, followed by the
// configured provider-hosted tool types in configuration order.
func requestTools(cfg *config.Config) []domain.ToolSpec {
	tools := []domain.ToolSpec{tool.Spec(tool.NewSpreadsheetTool())}
	for _, t := range cfg.Tools {
		tools = append(tools, domain.ToolSpec{Type: t})
	}
	return tools
}

// StructuredSchema returns the strict JSON schema of StructuredReply. Every
// object lists all of its properties as required and forbids extras.
func StructuredSchema() map[string]any {
	str := map[string]any{"type": "string"}
	button := object(
		"text", str,
		"payload", str,
	)
	media := object(
		"mediaUri", str,
		"altText", str,
		"mimeType", str,
	)
	att := object(
		"name", str,
		"mimeType", str,
		"base64", str,
	)
	card := object(
		"title", str,
		"subtitle", str,
		"imageUri", str,
		"buttons", array(button),
	)
	return object(
		"text", str,
		"buttons", array(button),
		"media", array(media),
		"attachments", array(att),
		"cards", array(card),
		"intent", str,
	)
}

// object builds a closed object schema from name/schema pairs.
func object(kv ...any) map[string]any {
	props := make(map[string]any, len(kv)/2)
	required := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		props[name] = kv[i+1]
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func array(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}
