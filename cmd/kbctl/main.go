// Package main implements kbctl, the command-line client for the
// knowledged HTTP API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowledged/internal/client"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
)

var (
	// serverURL is the base URL of the knowledged daemon
	serverURL string
	// timeout bounds one request; setup and resync run the whole pipeline
	timeout time.Duration
	// jsonOutput prints raw API responses
	jsonOutput bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kbctl",
	Short: "CLI for knowledged tenant operations",
	Long: `kbctl drives a knowledged daemon: provisioning tenants, pushing
configuration and service updates, resyncing and offboarding indexes, and
inspecting what is indexed.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "addr", envOr("KNOWLEDGED_ADDR", "http://localhost:8420"), "knowledged server URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Minute, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithTimeout(timeout))
}

// decodeFile loads a YAML or JSON file into out. A non-empty key selects
// a subtree, e.g. "services".
func decodeFile(path, key string, out any) error {
	var (
		content []byte
		err     error
	)
	if path == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if key != "" && !k.Exists(key) {
		return fmt.Errorf("%s has no %q key", path, key)
	}
	// Decoding through JSON applies the same field defaults the API does,
	// e.g. a service without "active" is active.
	raw := any(k.Raw())
	if key != "" {
		raw = k.Get(key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult reports one operation. A rolled back result is printed
// before its error is returned so the operation id is never lost.
func printResult(cmd *cobra.Command, res *orchestrator.Result, err error) error {
	w := cmd.OutOrStdout()
	if res != nil {
		if jsonOutput {
			if perr := printJSON(w, res); perr != nil {
				return perr
			}
		} else {
			fmt.Fprintf(w, "%s %s: %s (%d vectors) in %s\n",
				res.Kind, res.TenantID, res.State, res.VectorCount, res.Duration.Round(time.Millisecond))
			fmt.Fprintf(w, "  operation: %s\n", res.OperationID)
			for _, warn := range res.Warnings {
				fmt.Fprintf(w, "  warning: %s\n", warn)
			}
		}
	}
	return err
}

// splitIDs parses a comma separated tenant id list.
func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
