// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// sunnetcat pings a sunnetd echo server and reports the round trip times.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var (
		opts    catOptions
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:   "sunnetcat",
		Short: "Ping a SunNet echo server",
		Long: `sunnetcat connects to a sunnetd echo server, sends the greeting and
a series of pings and prints the round trip time of each answered ping.

Examples:
  sunnetcat --port 9876
  sunnetcat --address 10.0.0.2 --port 9876 --count 10 --interval 500ms
  sunnetcat --network unix --address /tmp/sunnet.sock`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}

			stats, err := runCat(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	rootCmd.Flags().StringVar(&opts.network, "network", "tcp", "Network: tcp, tcp4, tcp6 or unix")
	rootCmd.Flags().StringVarP(&opts.address, "address", "a", "127.0.0.1", "Server address, or path for unix sockets")
	rootCmd.Flags().StringVarP(&opts.port, "port", "p", "9876", "Server port")
	rootCmd.Flags().IntVarP(&opts.count, "count", "c", 5, "Number of pings")
	rootCmd.Flags().DurationVarP(&opts.interval, "interval", "i", time.Second, "Duration between pings")
	rootCmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Second, "Duration to wait for outstanding answers")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
