// Command swiftkernel is the Jupyter kernel executable registered in a
// kernelspec's argv: `swiftkernel run {connection_file}`.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swiftkernel/swiftkernel/internal/kernel"
	"github.com/swiftkernel/swiftkernel/internal/kernelconfig"
	"github.com/swiftkernel/swiftkernel/internal/protocol"
)

// buildVersion is overridden at link time via -ldflags by the magefile.
var buildVersion = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "swiftkernel",
		Short: "A Jupyter kernel for Swift, driven through a debugger scripting API",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML kernel config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kernel's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildVersion)
			return nil
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <connection-file>",
		Short: "Start the kernel against a Jupyter connection file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKernel(args[0], *configPath)
		},
	}
}

func runKernel(connectionFile, configPath string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := kernelconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading kernel config: %w", err)
	}

	connData, err := os.ReadFile(connectionFile)
	if err != nil {
		return fmt.Errorf("reading connection file: %w", err)
	}
	var connInfo protocol.ConnectionInfo
	if err := json.Unmarshal(connData, &connInfo); err != nil {
		return fmt.Errorf("parsing connection file: %w", err)
	}

	sess := kernel.New(cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.Stop()

	server, err := protocol.NewServer(connInfo, sess, log)
	if err != nil {
		return fmt.Errorf("binding sockets: %w", err)
	}
	defer server.Stop()

	log.Info("swiftkernel listening", zap.String("connection_file", connectionFile))
	return server.Run(ctx)
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
