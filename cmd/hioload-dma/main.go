// File: cmd/hioload-dma/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-dma runs the rendezvous engine over the in-process fabric.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-dma/cmd/hioload-dma/commands"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hioload-dma",
		Short: "Rendezvous DMA transfer engine",
		Long: `hioload-dma drives the request/grant/send rendezvous between two NICs
attached to an in-process software fabric.

Settings come from --config, ./hioload-dma.yaml or /etc/hioload-dma, and
can be overridden by environment variables:
  HIOLOAD_DMA_CACHE_CAPACITY
  HIOLOAD_DMA_MAX_BLOCK_LEN
  HIOLOAD_DMA_LOG_LEVEL
  HIOLOAD_DMA_POOL_DEPTH`,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file")

	rootCmd.AddCommand(commands.NewBenchCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
