package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/PolarWolf314/cage/internal/requests"
	"github.com/PolarWolf314/cage/internal/ui"

	"github.com/spf13/cobra"
)

var (
	groupTier       string
	groupRecipients []string
	groupListJSON   bool
)

func init() {
	configGroupAddCmd.Flags().StringVar(&groupTier, "tier", "standard", "authority tier: standard, elevated or emergency")
	configGroupAddCmd.Flags().StringSliceVar(&groupRecipients, "recipient", nil, "public key in the group (repeatable)")
	configGroupListCmd.Flags().BoolVar(&groupListJSON, "json", false, "output in JSON format")

	configGroupCmd.AddCommand(configGroupAddCmd, configGroupRemoveCmd, configGroupListCmd)
	ConfigCmd.AddCommand(configGroupCmd)
}

func resetConfigGroupState() {
	groupTier = "standard"
	groupRecipients = nil
	groupListJSON = false
}

var configGroupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage named recipient groups",
	Long: `Recipient groups name a set of public keys with an authority tier.
Lock with --group to encrypt for every member, filtered by --tier.

Examples:
  cage config group add ops --tier elevated --recipient age1... --recipient age1...
  cage config group list
  cage config group remove ops`,
}

var configGroupAddCmd = &cobra.Command{
	Use:          "add <name>",
	Short:        "Add a recipient group",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config group add command")
		name := args[0]

		tier, err := requests.ParseAuthorityTier(groupTier)
		if err != nil {
			fmt.Println(failureMessage("Invalid tier", err))
			return err
		}
		recipients, err := requests.ParseRecipients(groupRecipients)
		if err != nil {
			fmt.Println(failureMessage("Invalid recipient", err))
			return err
		}
		group, err := requests.NewRecipientGroup(name, tier, recipients...)
		if err != nil {
			fmt.Println(failureMessage("Invalid recipient group", err))
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Println(failureMessage("Configuration is invalid", err))
			return err
		}
		if err := cfg.AddRecipientGroup(name, group.Config()); err != nil {
			fmt.Println(failureMessage("Failed to add group", err))
			return err
		}
		if err := cfg.Save(); err != nil {
			fmt.Println(failureMessage("Failed to save configuration", err))
			return err
		}

		fmt.Printf("%s Saved group %s (%s, %d recipient(s)) to %s\n", ui.Success.Sprint("✓"),
			ui.Highlight.Sprint(name), tier, group.Len(), ui.Path.Sprint(cfg.Source()))
		return nil
	},
}

var configGroupRemoveCmd = &cobra.Command{
	Use:          "remove <name>",
	Short:        "Remove a recipient group",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config group remove command")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Println(failureMessage("Configuration is invalid", err))
			return err
		}
		if err := cfg.RemoveRecipientGroup(args[0]); err != nil {
			fmt.Println(failureMessage("Failed to remove group", err))
			return err
		}
		if err := cfg.Save(); err != nil {
			fmt.Println(failureMessage("Failed to save configuration", err))
			return err
		}

		fmt.Println(ui.Success.Sprint("✓") + " Removed group " + ui.Highlight.Sprint(args[0]))
		return nil
	},
}

type groupSummary struct {
	Name       string   `json:"name"`
	Tier       string   `json:"tier"`
	Recipients []string `json:"recipients"`
}

var configGroupListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List recipient groups",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config group list command")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Println(failureMessage("Configuration is invalid", err))
			return err
		}

		var groups []groupSummary
		for _, name := range cfg.RecipientGroupNames() {
			g, _ := cfg.RecipientGroup(name)
			groups = append(groups, groupSummary{Name: name, Tier: g.Tier, Recipients: g.Recipients})
		}

		if groupListJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(groups)
		}

		if len(groups) == 0 {
			fmt.Println("No recipient groups configured.")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s %s %s\n", ui.Highlight.Sprint(g.Name), ui.Muted.Sprint(g.Tier), strings.Join(g.Recipients, ", "))
		}
		return nil
	},
}
