// Command gwctl is the operator-facing CLI for the gateway daemon: it
// manages the profile store and sends start/stop/status commands to a
// running gatewayd over its local control listener. Command-tree shape
// adapted from the teacher's cmd/outline-ws/main.go.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/outline-cli-ws/gatewayd/internal/config"
	"github.com/outline-cli-ws/gatewayd/internal/control"
	"github.com/outline-cli-ws/gatewayd/internal/supervisor"
)

var (
	configDir   string
	controlAddr string
	store       *config.Store
)

var rootCmd = &cobra.Command{
	Use:   "gwctl",
	Short: "Control the gateway daemon",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		store, err = config.Open(filepath.Join(configDir, "profiles.json"))
		return err
	},
}

var startCmd = &cobra.Command{
	Use:   "start [profile-name-or-index]",
	Short: "Start a tunnel session for a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := store.ByNameOrIndex(args[0])
		if profile == nil {
			return fmt.Errorf("profile not found: %s", args[0])
		}
		c := control.NewClient("http://" + controlAddr)
		return c.Start(cmd.Context(), profile.ID)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		c := control.NewClient("http://" + controlAddr)
		return c.Stop(cmd.Context(), force)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := control.NewClient("http://" + controlAddr)
		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(*st)
		}
		return c.WatchEvents(cmd.Context(), func(st supervisor.Status) {
			_ = printStatus(st)
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage proxy profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add [name] [type] [host] [port] [dns1] [dns2]",
	Short: "Add a new profile",
	Args:  cobra.RangeArgs(5, 6),
	RunE: func(cmd *cobra.Command, args []string) error {
		port := 0
		fmt.Sscanf(args[3], "%d", &port)
		p := &config.Profile{
			Name: args[0],
			Type: config.ProxyType(args[1]),
			Host: args[2],
			Port: port,
			DNS1: args[4],
		}
		if len(args) > 5 {
			p.DNS2 = args[5]
		}
		return store.AddProfile(p)
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		for i, p := range store.Profiles() {
			fmt.Printf("[%d] %s (%s) %s:%d\n", i+1, p.Name, p.Type, p.Host, p.Port)
		}
		return nil
	},
}

var profileRmCmd = &cobra.Command{
	Use:   "rm [name-or-index]",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := store.ByNameOrIndex(args[0])
		if p == nil {
			return fmt.Errorf("profile not found: %s", args[0])
		}
		return store.RemoveProfile(p.ID)
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name-or-index]",
	Short: "Select the default profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := store.ByNameOrIndex(args[0])
		if p == nil {
			return fmt.Errorf("profile not found: %s", args[0])
		}
		return store.SetSelected(p.ID)
	},
}

func printStatus(st interface{}) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.PersistentFlags().StringVar(&configDir, "config",
		filepath.Join(home, ".config", "gatewayd"), "config directory")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-addr",
		"127.0.0.1:9322", "daemon control listen address")

	stopCmd.Flags().Bool("force", false, "bypass automation-session protection")
	statusCmd.Flags().Bool("watch", false, "stream status updates")

	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileRmCmd, profileUseCmd)
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
