package main

import (
	"log"

	"github.com/spf13/cobra"

	"wa_guard/internal/config"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		config.LoadEnvFiles(".env", "env.production", "env.local")
		cfg = config.Load()
	}
}
