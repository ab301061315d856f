package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "codebot",
	Short: "codebot - run code in throwaway Docker containers",
	Long: `codebot builds a set of images from local Dockerfiles and runs scripts or
those images in short-lived, resource-limited containers.

Serve it as a traQ bot or as an MCP server, or perform a single run from the
command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: config.yaml in . or ./config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
