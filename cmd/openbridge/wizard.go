package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"openbridge/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: credentials, model, attachments and output mode",
		Long:  "Guides you through the capability settings and writes them as YAML to the path given by --config or ./" + defaultConfigPath + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			caps, err := runWizard(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := saveCaps(cfgPath, caps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig saved to %s\n", cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: run 'openbridge doctor', then 'openbridge chat'.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

// runWizard asks for each setting on out and reads answers from in. An empty
// answer keeps the default shown in brackets.
func runWizard(in io.Reader, out io.Writer) (config.Caps, error) {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	caps := config.Caps{}

	// Step 1: Credentials
	fmt.Fprintln(out, "\n--- Step 1: Credentials ---")
	fmt.Fprint(out, "API key: paste key or env var reference")
	key, err := prompt("${" + config.CapAPIKey + "}")
	if err != nil {
		return nil, err
	}
	caps[config.CapAPIKey] = key

	fmt.Fprint(out, "API base URL")
	base, err := prompt(config.DefaultBaseURL)
	if err != nil {
		return nil, err
	}
	if base != config.DefaultBaseURL {
		caps[config.CapBaseURL] = base
	}

	// Step 2: Model
	fmt.Fprintln(out, "\n--- Step 2: Model ---")
	fmt.Fprint(out, "Model")
	model, err := prompt("gpt-4.1-mini")
	if err != nil {
		return nil, err
	}
	caps[config.CapModel] = model

	fmt.Fprint(out, "System prompt (optional)")
	sys, err := prompt("")
	if err != nil {
		return nil, err
	}
	if sys != "" {
		caps[config.CapSystemPrompt] = sys
	}

	// Step 3: Attachments
	fmt.Fprintln(out, "\n--- Step 3: Attachments ---")
	fmt.Fprintln(out, "  1) upload: images go to the file store and are deleted after each turn")
	fmt.Fprintln(out, "  2) inline: images are sent as data URIs")
	fmt.Fprint(out, "Choose attachment mode (1–2)")
	choice, err := prompt("1")
	if err != nil {
		return nil, err
	}
	if choice == "2" || strings.EqualFold(choice, string(config.ModeInline)) {
		caps[config.CapAttachmentMode] = string(config.ModeInline)
	} else {
		caps[config.CapAttachmentMode] = string(config.ModeUpload)
	}

	// Step 4: Output mode
	fmt.Fprintln(out, "\n--- Step 4: Output mode ---")
	fmt.Fprint(out, "Structured output with buttons, media and cards? (y/n)")
	structured, err := prompt("n")
	if err != nil {
		return nil, err
	}
	caps[config.CapStructuredOutput] = structured == "y" || structured == "yes"

	if _, err := config.FromCaps(caps); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return caps, nil
}

func saveCaps(path string, caps config.Caps) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(map[string]any(caps))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
