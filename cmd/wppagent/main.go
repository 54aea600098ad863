package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wppagent",
	Short: "wppagent hosts autonomous WhatsApp agent sessions",
	Long: "wppagent manages a fleet of tenant WhatsApp sessions, answers inbound " +
		"direct messages with an LLM completion and records session lifecycle durably.",
}

func main() {
	rootCmd.AddCommand(newServeCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
