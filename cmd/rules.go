package cmd

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/salesclaw/internal/router"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Routing rule utilities",
	}
	cmd.AddCommand(rulesCheckCmd())
	return cmd
}

func rulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a keyword rules file and print its rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := router.LoadRulesFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s %s  %s\n",
				runewidth.FillRight("NAME", 24), runewidth.FillRight("AGENT", 18),
				runewidth.FillRight("STATE", 20), runewidth.FillRight("CONF", 5), "KEYWORDS")
			for _, r := range rules {
				fmt.Fprintf(out, "%s %s %s %s  %s\n",
					runewidth.FillRight(runewidth.Truncate(r.RuleName, 24, "…"), 24),
					runewidth.FillRight(string(r.Agent), 18),
					runewidth.FillRight(string(r.State), 20),
					runewidth.FillRight(fmt.Sprintf("%.2f", r.Confidence), 5),
					runewidth.Truncate(strings.Join(r.Keywords, ", "), 60, "…"))
			}
			fmt.Fprintf(out, "%d rules OK\n", len(rules))
			return nil
		},
	}
}
