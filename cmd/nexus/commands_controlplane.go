package main

import (
	"github.com/haasonsaas/nexus/internal/profile"
	"github.com/spf13/cobra"
)

// =============================================================================
// Control Plane Commands
// =============================================================================

// buildControlPlaneCmd creates the "controlplane" command group for the
// sandboxed-agent orchestration reconciler: running the worker loop and
// inspecting its queue/fleet state.
func buildControlPlaneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controlplane",
		Short: "Run and inspect the sandboxed-agent orchestration control plane",
	}
	cmd.AddCommand(
		buildControlPlaneServeCmd(),
		buildControlPlaneRequestsCmd(),
		buildControlPlaneSandboxesCmd(),
	)
	return cmd
}

func buildControlPlaneServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane reconciler loop",
		Long: `Starts the reconciler: it claims pending requests from the queue,
dispatches them against the configured sandbox runtime backend, scans for
sandboxes overdue on their idle/busy timeout, and health-checks every
running sandbox, until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlPlaneServe(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildControlPlaneRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect the control plane request queue",
	}
	cmd.AddCommand(buildControlPlaneRequestsListCmd())
	return cmd
}

func buildControlPlaneRequestsListCmd() *cobra.Command {
	var (
		configPath string
		sandboxID  string
		status     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued/processed requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlPlaneRequestsList(cmd, configPath, sandboxID, status, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&sandboxID, "sandbox-id", "", "Filter by sandbox ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of requests to return")
	return cmd
}

func buildControlPlaneSandboxesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandboxes",
		Short: "Inspect control plane sandboxes",
	}
	cmd.AddCommand(buildControlPlaneSandboxesListCmd())
	return cmd
}

func buildControlPlaneSandboxesListCmd() *cobra.Command {
	var (
		configPath string
		owner      string
		state      string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sandboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlPlaneSandboxesList(cmd, configPath, owner, state, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (creating, running, idle, busy, slept, destroyed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of sandboxes to return")
	return cmd
}
