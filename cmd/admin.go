package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"qqbot/pkg/config"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage bot account tokens",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		accounts, err := cfg.Accounts()
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no accounts configured")
			return nil
		}
		for _, acc := range accounts {
			fmt.Fprintln(cmd.OutOrStdout(), describeAccount(cfg, acc))
		}
		return nil
	},
}

var accountAddCmd = &cobra.Command{
	Use:   "add <id:appid:token:secret[:group:guild]>",
	Short: "Add or replace an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		replaced, err := cfg.AddToken(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		if replaced {
			fmt.Fprintln(cmd.OutOrStdout(), "replaced existing account")
		}
		return saveConfig(cmd, cfg, path)
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <id|token>",
	Short: "Remove an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.RemoveToken(strings.TrimSpace(args[0])) {
			return fmt.Errorf("account %s not found", args[0])
		}
		return saveConfig(cmd, cfg, path)
	},
}

var markdownCmd = &cobra.Command{
	Use:   "markdown <account> [template_id|raw]",
	Short: "Set the markdown mode of an account",
	Long:  "Binds an account to a markdown template id, to raw markdown with \"raw\", or back to plain messages when the template is omitted.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		template := ""
		if len(args) == 2 {
			template = strings.TrimSpace(args[1])
		}
		cfg.SetMarkdown(args[0], template)
		return saveConfig(cmd, cfg, path)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <" + strings.Join(config.Switches, "|") + "> <on|off>",
	Short: "Toggle a delivery switch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.SetSwitch(args[0], on); err != nil {
			return err
		}
		return saveConfig(cmd, cfg, path)
	},
}

var filterLogCmd = &cobra.Command{
	Use:   "filter-log <add|remove> <account> <text>",
	Short: "Silence log lines for messages with the given text",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		text := strings.Join(args[2:], " ")
		switch args[0] {
		case "add":
			if !cfg.AddFilterLog(args[1], text) {
				return fmt.Errorf("%q is already filtered", text)
			}
		case "remove":
			if !cfg.RemoveFilterLog(args[1], text) {
				return fmt.Errorf("%q is not filtered", text)
			}
		default:
			return fmt.Errorf("unknown action %q (want add or remove)", args[0])
		}
		return saveConfig(cmd, cfg, path)
	},
}

func init() {
	accountCmd.AddCommand(accountListCmd, accountAddCmd, accountRemoveCmd)
	rootCmd.AddCommand(accountCmd, markdownCmd, setCmd, filterLogCmd)
}

// describeAccount prints an account without its credentials.
func describeAccount(cfg *config.Config, acc config.Account) string {
	return fmt.Sprintf("%s\tappid=%s\tgroup=%t\tprivate_guild=%t\t%s", acc.ID, acc.AppID, acc.Group, acc.PrivateGuild, markdownMode(cfg, acc.ID))
}

func markdownMode(cfg *config.Config, accountID string) string {
	b, err := cfg.Binding(accountID)
	switch {
	case err != nil || !b.Enabled():
		return "plain"
	case b.Raw:
		return "raw markdown"
	default:
		return "template " + b.TemplateID
	}
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "open", "enable":
		return true, nil
	case "off", "close", "disable":
		return false, nil
	}
	on, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid switch value %q (want on or off)", value)
	}
	return on, nil
}
