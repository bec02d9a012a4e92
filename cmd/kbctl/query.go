package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

var (
	// searchTopK is the match count for search
	searchTopK int
	// opsLimit bounds the journal listing
	opsLimit int
	// fleetTenants restricts a fleet resync; empty means every active tenant
	fleetTenants string
	// fleetConcurrency bounds parallel tenant resyncs
	fleetConcurrency int
)

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "number of matches")
	operationsCmd.Flags().IntVarP(&opsLimit, "limit", "n", 20, "maximum journal entries")
	fleetResyncCmd.Flags().StringVar(&fleetTenants, "tenants", "", "comma separated tenant ids (default: all active)")
	fleetResyncCmd.Flags().IntVar(&fleetConcurrency, "concurrency", 0, "parallel resyncs (default: server side)")

	rootCmd.AddCommand(statusCmd, searchCmd, operationsCmd, operationCmd, fleetResyncCmd)
}

// statusCmd shows what is indexed for a tenant
var statusCmd = &cobra.Command{
	Use:   "status TENANT",
	Short: "Show a tenant's index status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, st)
		}
		if !st.Exists {
			fmt.Fprintf(w, "%s: not provisioned\n", st.TenantID)
			return nil
		}
		fmt.Fprintf(w, "%s: %d vectors in %s\n", st.TenantID, st.VectorCount, st.Namespace)
		sections := make([]string, 0, len(st.Sections))
		for section := range st.Sections {
			sections = append(sections, string(section))
		}
		sort.Strings(sections)
		for _, section := range sections {
			fmt.Fprintf(w, "  %-10s %d\n", section, len(st.Sections[tenant.Section(section)]))
		}
		if last := st.LastOperation; last != nil {
			fmt.Fprintf(w, "  last: %s %s at %s (%s)\n",
				last.Kind, last.State, last.At.Format(time.RFC3339), last.OperationID)
			if last.Detail != "" {
				fmt.Fprintf(w, "  detail: %s\n", last.Detail)
			}
		}
		return nil
	},
}

// searchCmd queries a tenant's index
var searchCmd = &cobra.Command{
	Use:   "search TENANT QUERY...",
	Short: "Search a tenant's knowledge index",
	Long: `Search a tenant's knowledge index.

Examples:
  kbctl search acme-dental "do you take walk-ins"
  kbctl search acme-dental opening hours -k 3`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args[1:], " ")
		matches, err := newClient().Search(cmd.Context(), args[0], query, searchTopK)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(w, matches)
		}
		if len(matches) == 0 {
			fmt.Fprintf(w, "No matches for %q\n", query)
			return nil
		}
		for i, m := range matches {
			label := m.Type
			if title := m.Metadata[chunking.MetaTitle]; title != "" {
				label += " / " + title
			}
			fmt.Fprintf(w, "%d. [%.3f] %s\n", i+1, m.Score, label)
			fmt.Fprintf(w, "   %s\n", oneLine(m.Text, 160))
		}
		return nil
	},
}

// operationsCmd lists a tenant's journal
var operationsCmd = &cobra.Command{
	Use:   "operations TENANT",
	Short: "List a tenant's journaled operations, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := newClient().Operations(cmd.Context(), args[0], opsLimit)
		if err != nil {
			return err
		}
		return printOperations(cmd, ops)
	},
}

// operationCmd traces one operation
var operationCmd = &cobra.Command{
	Use:   "operation OPERATION_ID",
	Short: "Show every state one operation passed through",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, err := newClient().OperationHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printOperations(cmd, ops)
	},
}

// fleetResyncCmd starts the fleet workflow
var fleetResyncCmd = &cobra.Command{
	Use:   "fleet-resync",
	Short: "Start a resync of every active tenant as a workflow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, err := newClient().FleetResync(cmd.Context(), splitIDs(fleetTenants), fleetConcurrency)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started fleet resync: %s\n", id)
		return nil
	},
}

func printOperations(cmd *cobra.Command, ops []store.Operation) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, ops)
	}
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations journaled")
		return nil
	}
	for _, op := range ops {
		line := fmt.Sprintf("%s  %-26s  %-16s  %-14s", op.At.Format(time.RFC3339), op.OperationID, op.Kind, op.State)
		if op.Detail != "" {
			line += "  " + op.Detail
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	return nil
}

// oneLine collapses whitespace and truncates s to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
