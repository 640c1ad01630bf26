/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"qqbot/pkg/config"
	"qqbot/pkg/delivery"
	"qqbot/pkg/gateway"
	"qqbot/pkg/message"
	"qqbot/pkg/ui/console"
)

var (
	composeText    string
	composeAccount string
	composeKind    string
	composeJSON    bool
	composeTUI     bool
)

// composeCmd represents the compose command
var composeCmd = &cobra.Command{
	Use:   "compose [message]",
	Short: "Preview the packets a message would be sent as",
	Long: `Composes a message with an account's markdown, button and media settings
and prints the packets as JSON without contacting the platform.

With --json the input is a segment list such as
[{"type":"text","data":{"text":"hi"}}]. Without input an interactive
prompt reads one message per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		kind, err := parseKind(composeKind)
		if err != nil {
			return err
		}

		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := context.Background()
		out := cmd.OutOrStdout()

		input := resolveInput(args)
		if input != "" {
			return previewOnce(ctx, cfg, kind, input, out, log)
		}

		if composeTUI {
			return runConsole(ctx, cfg, kind, log)
		}
		runInteractive(ctx, cfg, kind, cmd.InOrStdin(), out, log)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(composeCmd)
	composeCmd.Flags().StringVarP(&composeText, "text", "t", "", "message to compose")
	composeCmd.Flags().StringVarP(&composeAccount, "account", "a", "", "account id (default: first configured)")
	composeCmd.Flags().StringVarP(&composeKind, "kind", "k", string(delivery.KindGroup), "target kind: friend, group, guild or direct")
	composeCmd.Flags().BoolVar(&composeJSON, "json", false, "treat the input as a JSON segment list")
	composeCmd.Flags().BoolVar(&composeTUI, "tui", false, "open the full-screen compose console")
}

func resolveInput(args []string) string {
	if value := strings.TrimSpace(composeText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func parseKind(value string) (delivery.Kind, error) {
	switch kind := delivery.Kind(strings.ToLower(strings.TrimSpace(value))); kind {
	case delivery.KindFriend, delivery.KindGroup, delivery.KindGuild, delivery.KindDirect:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want friend, group, guild or direct)", value)
	}
}

func inputSegments(input string) []message.Segment {
	if composeJSON {
		return message.NormalizeJSON([]byte(input))
	}
	return []message.Segment{message.Text(input)}
}

func previewOnce(ctx context.Context, cfg *config.Config, kind delivery.Kind, input string, out io.Writer, log *slog.Logger) error {
	res, err := gateway.Preview(ctx, cfg, composeAccount, kind, inputSegments(input), log)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runInteractive(ctx context.Context, cfg *config.Config, kind delivery.Kind, in io.Reader, out io.Writer, log *slog.Logger) {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Fprintf(out, "input error: %v\n", err)
			}
			return
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if isExitCommand(input) {
			return
		}

		if err := previewOnce(ctx, cfg, kind, input, out, log); err != nil {
			fmt.Fprintf(out, "compose failed: %v\n", err)
		}
	}
}

// runConsole opens the full-screen console. Lines that parse as JSON are
// treated as segment lists there.
func runConsole(ctx context.Context, cfg *config.Config, kind delivery.Kind, log *slog.Logger) error {
	accountID := composeAccount
	if accountID == "" {
		if accounts, err := cfg.Accounts(); err == nil && len(accounts) > 0 {
			accountID = accounts[0].ID
		}
	}
	info := console.Info{AccountID: accountID, Kind: string(kind), Mode: markdownMode(cfg, accountID)}

	return console.Run(ctx, func(ctx context.Context, input string) (console.Result, error) {
		res, err := gateway.Preview(ctx, cfg, composeAccount, kind, message.NormalizeJSON([]byte(input)), log)
		if err != nil {
			return console.Result{}, err
		}
		return console.Result{Packets: res.Packets, Errors: res.Errors}, nil
	}, info)
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
