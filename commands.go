package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "wa-guard",
		Short: "Keeps blacklisted numbers out of WhatsApp groups",
		Long: `wa-guard watches the groups bound to the bot account, removes members
whose numbers are on their owner's blacklist and keeps itself running
through a heartbeat and two supervision tiers.`,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Runs the scanner, its supervisors and the HTTP API",
		RunE:  runServe,
	}
	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Prints the persisted actor state as JSON",
		RunE:  runState,
	}
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issues an API bearer token for an owner",
		RunE:  runToken,
	}
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stateCmd)

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "Owner user ID the token is issued for")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "admin", "Role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("user")
}
