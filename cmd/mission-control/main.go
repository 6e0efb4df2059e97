// ABOUTME: Entry point for the mission-control server
// ABOUTME: Cobra commands: serve, sweep, token, version

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0".
var version = "dev"

const banner = `
           _         _                                  _             _
 _ __ ___ (_)___ ___(_) ___  _ __         ___ ___  _ __ | |_ _ __ ___ | |
| '_ ' _ \| / __/ __| |/ _ \| '_ \ _____ / __/ _ \| '_ \| __| '__/ _ \| |
| | | | | | \__ \__ \ | (_) | | | |_____| (_| (_) | | | | |_| | | (_) | |
|_| |_| |_|_|___/___/_|\___/|_| |_|      \___\___/|_| |_|\__|_|  \___/|_|
`

var cfgFile string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mission-control",
		Short:         "Mission Control: gateway agent lifecycle and template sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $MISSION_CONTROL_CONFIG or ~/.config/mission-control/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mission-control %s\n", version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the periodic main-agent sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one self-healing pass over every gateway and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context())
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(userID, ttl)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to issue the token for")
	cmd.Flags().StringVar(&ttl, "ttl", "24h", "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printBanner() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)
}
