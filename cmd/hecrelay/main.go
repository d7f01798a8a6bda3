// Command hecrelay runs the HTTP-to-syslog ingestion gateway.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"hecrelay/internal/config"
)

var version = "dev"

func main() {
	logLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	rootCmd := &cobra.Command{
		Use:   "hecrelay",
		Short: "HTTP event collector to syslog relay gateway",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logLevel.Set(slog.LevelDebug)
			}
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060). Bind to loopback only, never expose publicly")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := cfg.FromEnv(); err != nil {
				return err
			}
			overlayFlags(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, cfg)
		},
	}

	serveCmd.Flags().String("addr", "", "HTTP listen address (default :8080)")
	serveCmd.Flags().String("relay-addr", "", "downstream syslog relay address (default 127.0.0.1:601)")
	serveCmd.Flags().String("relay-protocol", "", "relay transport: relp, tcp or tls (default relp)")
	serveCmd.Flags().Duration("reconnect-wait", 0, "interval between relay reconnect attempts")
	serveCmd.Flags().Int("max-ack-value", 0, "largest acknowledgement id before wraparound")
	serveCmd.Flags().Duration("max-ack-age", 0, "acknowledgement eviction TTL")
	serveCmd.Flags().Duration("max-session-age", 0, "session eviction TTL")
	serveCmd.Flags().Duration("poll-interval", 0, "eviction sweep interval")
	serveCmd.Flags().Float64("rate-limit", -1, "per-IP requests per second, 0 disables")
	serveCmd.Flags().Int("rate-burst", 0, "per-IP burst allowance")
	serveCmd.Flags().Int64("max-body-bytes", 0, "decoded request body cap")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// overlayFlags applies explicitly set flags on top of defaults and env.
func overlayFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("relay-addr"); v != "" {
		cfg.RelayAddr = v
	}
	if v, _ := cmd.Flags().GetString("relay-protocol"); v != "" {
		cfg.RelayProtocol = v
	}
	if v, _ := cmd.Flags().GetDuration("reconnect-wait"); v > 0 {
		cfg.ReconnectWait = v
	}
	if v, _ := cmd.Flags().GetInt("max-ack-value"); v > 0 {
		cfg.MaxAckValue = v
	}
	if v, _ := cmd.Flags().GetDuration("max-ack-age"); v > 0 {
		cfg.MaxAckAge = v
	}
	if v, _ := cmd.Flags().GetDuration("max-session-age"); v > 0 {
		cfg.MaxSessionAge = v
	}
	if v, _ := cmd.Flags().GetDuration("poll-interval"); v > 0 {
		cfg.PollInterval = v
	}
	if v, _ := cmd.Flags().GetFloat64("rate-limit"); v >= 0 {
		cfg.RateLimit = v
	}
	if v, _ := cmd.Flags().GetInt("rate-burst"); v > 0 {
		cfg.RateBurst = v
	}
	if v, _ := cmd.Flags().GetInt64("max-body-bytes"); v > 0 {
		cfg.MaxBodyBytes = v
	}
}
