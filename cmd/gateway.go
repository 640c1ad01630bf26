package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"qqbot/pkg/config"
	"qqbot/pkg/gateway"
	"qqbot/pkg/inbound"
	"qqbot/pkg/logger"
	"qqbot/pkg/message"
)

var gatewayEcho bool

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the webhook gateway",
	Long:  "Serves platform webhooks for every configured bot account, with an event stream, metrics and health endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, _, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("invalid config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.LoggerOptions())
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := logger.Component(appLogger, "cmd.gateway")

		var opts []gateway.Option
		if gatewayEcho {
			opts = append(opts, gateway.WithHandler(echoHandler))
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, appLogger, opts...)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started", "accounts", accountNames(cfg), "address", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().BoolVar(&gatewayEcho, "echo", false, "reply to every message with its own text")
}

// echoHandler answers a message with its text, for checking a deployment.
func echoHandler(_ context.Context, msg *inbound.Message) ([]message.Segment, error) {
	text := strings.TrimSpace(msg.RawMessage)
	if text == "" {
		return nil, nil
	}
	return []message.Segment{message.Text(text)}, nil
}

func accountNames(cfg *config.Config) string {
	accounts, err := cfg.Accounts()
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		names = append(names, acc.ID)
	}

	return strings.Join(names, ",")
}
