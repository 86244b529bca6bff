package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rolink "github.com/JamieW105/Ro-link-sub000"
	"github.com/JamieW105/Ro-link-sub000/internal/config"
	"github.com/JamieW105/Ro-link-sub000/internal/logger"
	itls "github.com/JamieW105/Ro-link-sub000/internal/tls"
)

var version = "dev"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Listen string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}

	root := &cobra.Command{
		Use:   "rolink",
		Short: "Discord-to-Roblox moderation bridge",
		Long: "rolink queues moderation commands from Discord staff and delivers them\n" +
			"to live Roblox game servers over a poll channel with an instant-push fast path.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "rolink.toml", "path to TOML config file")

	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createSweepCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

func createServeCommand(gf *GlobalFlags, sf *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := config.Load(gf.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", gf.ConfigPath, err)
			}
			if sf.Listen != "" {
				fc.Listen = sf.Listen
			}

			log := logger.New(fc.Log)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bridge, err := rolink.New(ctx, fc, log)
			if err != nil {
				return err
			}
			defer func() { _ = bridge.Close() }()

			go bridge.RunSweeper(ctx)

			tlsConf, err := itls.Setup(fc.TLS)
			if err != nil {
				return fmt.Errorf("tls setup: %w", err)
			}

			srv := &http.Server{
				Addr:              fc.Listen,
				Handler:           bridge.Handler(),
				TLSConfig:         tlsConf,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				if tlsConf != nil {
					errCh <- srv.ListenAndServeTLS("", "")
				} else {
					errCh <- srv.ListenAndServe()
				}
			}()
			log.Info("rolink listening", "addr", fc.Listen, "tls", tlsConf != nil, "guilds", len(fc.Guilds))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			log.Info("rolink stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&sf.Listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func createSweepCommand(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Prune stale server presence rows once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := config.Load(gf.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", gf.ConfigPath, err)
			}
			log := logger.New(fc.Log)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			bridge, err := rolink.New(ctx, fc, log)
			if err != nil {
				return err
			}
			defer func() { _ = bridge.Close() }()

			n, err := bridge.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d stale server(s)\n", n)
			return nil
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("rolink", version)
		},
	}
}
