package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aria/internal/config"
	"aria/internal/logging"
	"aria/internal/transport"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aria",
	Short: "aria - a long-running conversational agent",
	Long: `aria is a conversational agent that remembers, reflects and grows.

It runs a single-threaded control loop: inbound messages pass through a
safety gate, memory-backed context assembly, response generation, a persona
voice transform, an ethical filter and a mandatory correction gate. Between
message batches the agent explores topics, initiates conversations, reflects
on recent interactions and monitors its own behavior.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Run the agent control loop on the console",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		console := transport.NewConsole("console")
		app, err := buildApp(cfg, console, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		watcher, err := config.NewWatcher(configPath, func(fresh *config.Config) {
			logger.Info("configuration file changed; most changes apply on restart",
				zap.String("log_level", fresh.Logging.Level))
		})
		if err == nil {
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("config watcher unavailable", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return app.Orchestrator.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return console.Close()
		})

		fmt.Printf("%s is listening. Type a message, Ctrl-C to stop.\n", cfg.Persona.Name)
		return g.Wait()
	},
}

var messageCmd = &cobra.Command{
	Use:   "message [text]",
	Short: "Send one message through the pipeline and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch := transport.NewChannel()
		app, err := buildApp(cfg, ch, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		text := ""
		for i, a := range args {
			if i > 0 {
				text += " "
			}
			text += a
		}

		ch.Push("cli", text)
		app.Orchestrator.Tick(cmd.Context())

		replies := ch.Sent("cli")
		if len(replies) == 0 {
			return fmt.Errorf("no reply produced")
		}
		fmt.Println(replies[len(replies)-1])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory and persona status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ch := transport.NewChannel()
		app, err := buildApp(cfg, ch, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		interactions, err := app.Store.CountInteractions(ctx)
		if err != nil {
			return err
		}
		reflections, err := app.Store.CountReflections(ctx)
		if err != nil {
			return err
		}
		state := app.Persona.Snapshot()

		fmt.Printf("persona:       %s\n", state.Name)
		for name, v := range state.Traits {
			fmt.Printf("  trait %-13s %.2f\n", name+":", v)
		}
		fmt.Printf("interactions:  %d\n", interactions)
		fmt.Printf("reflections:   %d\n", reflections)
		fmt.Printf("discoveries:   %d\n", state.DiscoveryCount)
		fmt.Printf("database:      %s\n", cfg.Memory.DatabasePath)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to aria.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(loopCmd, messageCmd, statusCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
