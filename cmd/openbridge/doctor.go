package main

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"openbridge/internal/config"

	"github.com/spf13/cobra"
)

const dialTimeout = 5 * time.Second

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"validate"},
		Short:   "Validate the configuration and check that the API is reachable",
		Long: `Verifies that openbridge's capability settings load and validate and that
the Responses API host accepts connections. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout(), offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the network check")
	return cmd
}

func runDoctor(w io.Writer, offline bool) error {
	fmt.Fprintf(w, "openbridge doctor v%s\n", version)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	passed := 0
	failed := 0
	warned := 0

	// 1. Config source
	cfgPath := config.ExpandPath(resolveConfigPath())
	if _, err := os.Stat(cfgPath); err != nil {
		printWarn(w, "Config file", fmt.Sprintf("not found at %s, using environment only", cfgPath))
		warned++
	} else {
		printPass(w, "Config file", cfgPath)
		passed++
	}

	// 2. Config loads and validates
	caps, err := loadCaps()
	if err != nil {
		printFail(w, "Config load", err.Error())
		failed++
		return summarize(w, passed, warned, failed)
	}
	cfg, err := config.FromCaps(caps)
	if err != nil {
		printFail(w, "Config validation", err.Error())
		failed++
		return summarize(w, passed, warned, failed)
	}
	printPass(w, "Config validation", "valid")
	passed++

	// 3. Settings summary
	printPass(w, "Model", cfg.Model)
	passed++
	printPass(w, "Attachment mode", string(cfg.AttachmentMode))
	passed++
	if cfg.StructuredOutput {
		printPass(w, "Output mode", "structured (strict schema)")
	} else {
		printPass(w, "Output mode", "plain text")
	}
	passed++

	// 4. API host
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		printFail(w, "API base URL", fmt.Sprintf("invalid: %q", cfg.BaseURL))
		failed++
		return summarize(w, passed, warned, failed)
	}
	if u.Scheme != "https" {
		printWarn(w, "API base URL", cfg.BaseURL+" is not https")
		warned++
	} else {
		printPass(w, "API base URL", cfg.BaseURL)
		passed++
	}

	if offline {
		printWarn(w, "API reachable", "skipped (--offline)")
		warned++
	} else if err := checkHost(u); err != nil {
		printFail(w, "API reachable", err.Error())
		failed++
	} else {
		printPass(w, "API reachable", u.Host)
		passed++
	}

	return summarize(w, passed, warned, failed)
}

func summarize(w io.Writer, passed, warned, failed int) error {
	fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
	if failed > 0 {
		fmt.Fprintf(w, "\nPlease fix the failed checks before running openbridge.\n")
		return fmt.Errorf("%d check(s) failed", failed)
	}
	if warned > 0 {
		fmt.Fprintf(w, "\nopenbridge should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(w, "\nAll checks passed! openbridge is ready to run.\n")
	}
	return nil
}

// checkHost opens and closes a TCP connection to the API host.
func checkHost(u *url.URL) error {
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, dialTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
