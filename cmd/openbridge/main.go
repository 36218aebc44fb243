package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"openbridge/internal/agent"
	"openbridge/internal/bus"
	"openbridge/internal/channel"
	"openbridge/internal/config"
	"openbridge/internal/domain"
	"openbridge/internal/logging"
	"openbridge/internal/metrics"
	"openbridge/internal/provider"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "openbridge.yaml"

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "openbridge",
		Short:         "openbridge: conversational bridge to the OpenAI Responses API",
		Long:          "openbridge turns test-harness messages into Responses API turns and prints the normalized replies.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(logLevel, logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logger = l
			provider.UserAgent = "openbridge/" + version
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML capability file (default: ./"+defaultConfigPath+" if present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(turnCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(initCmd())
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return defaultConfigPath
}

// loadCaps reads the capability file, when there is one, and overlays the
// OPENAI_* environment variables.
func loadCaps() (config.Caps, error) {
	caps := config.Caps{}
	path := config.ExpandPath(resolveConfigPath())
	if _, err := os.Stat(path); err == nil {
		fileCaps, err := config.LoadCaps(path)
		if err != nil {
			return nil, err
		}
		caps = fileCaps
	} else if configPath != "" {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config.Merge(caps, config.EnvCaps()), nil
}

// newBridge builds a bridge whose sink feeds the returned channel sink.
func newBridge() (*agent.Bridge, *bus.ChannelSink, error) {
	caps, err := loadCaps()
	if err != nil {
		return nil, nil, err
	}
	results := bus.NewChannelSink(4, logger)
	b := agent.New(agent.Options{
		Sink:    results.Sink(),
		Logger:  logger,
		Metrics: metrics.Default,
	})
	if err := b.Validate(caps); err != nil {
		return nil, nil, err
	}
	if err := b.Build(caps); err != nil {
		return nil, nil, err
	}
	return b, results, nil
}

func turnCmd() *cobra.Command {
	var (
		text        string
		attachments []string
		showMetrics bool
	)
	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Run a single turn and print the outbound message as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := domain.InboundMessage{Text: text}
			for _, path := range attachments {
				att, err := channel.LoadAttachment(path)
				if err != nil {
					return err
				}
				msg.Attachments = append(msg.Attachments, att)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, results, err := newBridge()
			if err != nil {
				return err
			}
			b.Start()
			turnErr := b.ProcessTurn(ctx, msg)
			b.Stop()
			b.Teardown()

			if turnErr == nil {
				if err := printResult(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			}
			if showMetrics {
				if _, err := metrics.Collector.WriteTo(cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return turnErr
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "user message text")
	cmd.Flags().StringSliceVarP(&attachments, "attach", "a", nil, "file to attach (repeatable)")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print Prometheus metrics to stderr after the turn")
	return cmd
}

// printResult writes the delivered message, if any, as indented JSON.
func printResult(w io.Writer, results *bus.ChannelSink) error {
	select {
	case r := <-results.Results():
		if r.Err != nil {
			return r.Err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r.Message)
	default:
		_, err := fmt.Fprintln(w, "null")
		return err
	}
}

func chatCmd() *cobra.Command {
	var spinner bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Graceful shutdown on signals
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, results, err := newBridge()
			if err != nil {
				return err
			}
			defer b.Teardown()
			b.Start()
			defer b.Stop()

			cli := channel.NewCLI(channel.CLIConfig{
				Bridge:  b,
				Results: results.Results(),
				Logger:  logger,
				In:      cmd.InOrStdin(),
				Out:     cmd.OutOrStdout(),
				Spinner: spinner,
			})
			return cli.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&spinner, "spinner", true, "show a spinner while waiting for the model")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := loadCaps()
			if err != nil {
				return err
			}
			cfg, err := config.FromCaps(caps)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(sanitizedView(config.Sanitize(cfg)))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})
	return cmd
}

// sanitizedView renders cfg with capability names as keys.
func sanitizedView(cfg *config.Config) map[string]any {
	view := map[string]any{
		config.CapAPIKey:           cfg.APIKey,
		config.CapModel:            cfg.Model,
		config.CapAttachmentMode:   string(cfg.AttachmentMode),
		config.CapStructuredOutput: cfg.StructuredOutput,
		config.CapBaseURL:          cfg.BaseURL,
		config.CapTimeoutSeconds:   cfg.Timeout.Seconds(),
	}
	if cfg.SystemPrompt != "" {
		view[config.CapSystemPrompt] = cfg.SystemPrompt
	}
	if cfg.Temperature != nil {
		view[config.CapTemperature] = *cfg.Temperature
	}
	if cfg.MaxOutputTokens != nil {
		view[config.CapMaxTokens] = *cfg.MaxOutputTokens
	}
	if cfg.ReasoningEffort != "" {
		view[config.CapReasoningEffort] = cfg.ReasoningEffort
	}
	if cfg.RequestsPerMin > 0 {
		view[config.CapRequestsPerMin] = cfg.RequestsPerMin
	}
	if len(cfg.Tools) > 0 {
		view[config.CapTools] = cfg.Tools
	}
	if len(cfg.Include) > 0 {
		view[config.CapInclude] = cfg.Include
	}
	return view
}
