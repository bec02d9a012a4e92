package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

var (
	// snapshotFile is the tenant snapshot for setup
	snapshotFile string
	// profileFile is the agent configuration for update-config
	profileFile string
	// servicesFile holds a services: list for update-services
	servicesFile string
)

func init() {
	setupCmd.Flags().StringVarP(&snapshotFile, "file", "f", "", "tenant snapshot (YAML or JSON, - for stdin)")
	_ = setupCmd.MarkFlagRequired("file")
	updateConfigCmd.Flags().StringVarP(&profileFile, "file", "f", "", "agent configuration (YAML or JSON, - for stdin)")
	_ = updateConfigCmd.MarkFlagRequired("file")
	updateServicesCmd.Flags().StringVarP(&servicesFile, "file", "f", "", "file with a services list (YAML or JSON, - for stdin)")
	_ = updateServicesCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(healthCmd, setupCmd, updateConfigCmd, updateServicesCmd, resyncCmd, offboardCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check knowledged server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := newClient().Health(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reach %s: %w", serverURL, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: ok\n")
		return nil
	},
}

// setupCmd provisions a tenant
var setupCmd = &cobra.Command{
	Use:   "setup -f tenant.yaml",
	Short: "Provision a tenant and build its index",
	Long: `Provision a tenant from a snapshot file and build its index.

The file carries config, profile and services sections:

  config:
    id: acme-dental
    business_name: Acme Dental
    active: true
    sources: {tabular: false, documents: false}
  profile:
    business_hours: Mon-Fri 9am-5pm
  services:
    - name: Cleaning
      pricing: $80
      active: true

Examples:
  kbctl setup -f acme-dental.yaml
  cat acme-dental.json | kbctl setup -f -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var snap tenant.Snapshot
		if err := decodeFile(snapshotFile, "", &snap); err != nil {
			return err
		}
		if snap.Config.ID == "" {
			return fmt.Errorf("%s: config.id is required", snapshotFile)
		}
		res, err := newClient().Setup(cmd.Context(), snap)
		return printResult(cmd, res, err)
	},
}

// updateConfigCmd pushes a new agent configuration
var updateConfigCmd = &cobra.Command{
	Use:   "update-config TENANT -f profile.yaml",
	Short: "Replace a tenant's agent configuration and re-index it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p tenant.Profile
		if err := decodeFile(profileFile, "", &p); err != nil {
			return err
		}
		res, err := newClient().UpdateConfig(cmd.Context(), args[0], p)
		return printResult(cmd, res, err)
	},
}

// updateServicesCmd replaces the service rows
var updateServicesCmd = &cobra.Command{
	Use:   "update-services TENANT -f services.yaml",
	Short: "Replace a tenant's services and re-index them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var services []tenant.Service
		if err := decodeFile(servicesFile, "services", &services); err != nil {
			return err
		}
		res, err := newClient().UpdateServices(cmd.Context(), args[0], services)
		return printResult(cmd, res, err)
	},
}

// resyncCmd rebuilds a tenant's index
var resyncCmd = &cobra.Command{
	Use:   "resync TENANT",
	Short: "Rebuild a tenant's index from its sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Resync(cmd.Context(), args[0])
		return printResult(cmd, res, err)
	},
}

// offboardCmd removes a tenant
var offboardCmd = &cobra.Command{
	Use:   "offboard TENANT",
	Short: "Delete a tenant's index and rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Offboard(cmd.Context(), args[0])
		return printResult(cmd, res, err)
	},
}
