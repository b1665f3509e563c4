package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/relay/internal/cmd/client"
	serverrun "github.com/rzbill/relay/internal/cmd/server"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	logpkg "github.com/rzbill/relay/pkg/log"
)

func main() {
	level := os.Getenv("RELAY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Command relay broker CLI",
		Long:  "relay bridges durable command queues and websocket clients. This CLI manages the server and talks to its HTTP API.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the relay server (websocket and HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			wsAddr, _ := cmd.Flags().GetString("ws")
			fsyncMode, _ := cmd.Flags().GetString("fsync")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			}
			return serverrun.Run(context.Background(), serverrun.Options{
				ConfigPath: configPath,
				DataDir:    dataDir,
				HTTPAddr:   httpAddr,
				WSAddr:     wsAddr,
				Fsync:      mode,
			})
		},
	}
	serverStartCmd.Flags().String("config", "", "path to JSON or YAML config file")
	serverStartCmd.Flags().String("data-dir", "", "data directory (default: per-OS data dir)")
	serverStartCmd.Flags().String("http", "", "HTTP API listen address (default :8080)")
	serverStartCmd.Flags().String("ws", "", "websocket listen address (default :8765)")
	serverStartCmd.Flags().String("fsync", "always", "fsync mode: always|interval|never")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	for _, c := range clientcmd.NewRoot() {
		rootCmd.AddCommand(c)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
