package metrics

// BridgeMetrics groups the series recorded by the turn pipeline.
type BridgeMetrics struct {
	Turns            *Counter
	TurnFailures     *Counter
	ToolCalls        *Counter
	ToolFailures     *Counter
	Uploads          *Counter
	Deletes          *Counter
	DeleteFailures   *Counter
	ProviderRequests *Counter
	InputTokens      *Counter
	OutputTokens     *Counter
	ProviderLatency  *Histogram
	TurnLatency      *Histogram
}

// NewBridgeMetrics registers the bridge series on c.
func NewBridgeMetrics(c *Registry) *BridgeMetrics {
	return &BridgeMetrics{
		Turns:            c.Counter(namespace+"_turns_total", "Total turns processed", ""),
		TurnFailures:     c.Counter(namespace+"_turn_failures_total", "Turns that ended in an error", ""),
		ToolCalls:        c.Counter(namespace+"_tool_calls_total", "Tool calls executed", ""),
		ToolFailures:     c.Counter(namespace+"_tool_failures_total", "Tool calls dropped after an execution error", ""),
		Uploads:          c.Counter(namespace+"_uploads_total", "Files uploaded to the provider", ""),
		Deletes:          c.Counter(namespace+"_deletes_total", "Uploaded files deleted after a turn", ""),
		DeleteFailures:   c.Counter(namespace+"_delete_failures_total", "Uploaded files that could not be deleted", ""),
		ProviderRequests: c.Counter(namespace+"_provider_requests_total", "Response creation requests", ""),
		InputTokens:      c.Counter(namespace+"_tokens_total", "Tokens reported by the provider", `kind="input"`),
		OutputTokens:     c.Counter(namespace+"_tokens_total", "Tokens reported by the provider", `kind="output"`),
		ProviderLatency: c.Histogram(namespace+"_provider_latency_seconds", "Response creation latency in seconds", "",
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120}),
		TurnLatency: c.Histogram(namespace+"_turn_latency_seconds", "End-to-end turn latency in seconds", "",
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}),
	}
}

// Default is registered on the process-wide Collector.
var Default = NewBridgeMetrics(Collector)
