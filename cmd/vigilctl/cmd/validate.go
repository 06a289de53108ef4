package cmd

import (
	"fmt"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/forgelight/vigil/internal/model"
	"github.com/forgelight/vigil/internal/trigger"
)

// validateCmd checks a monitor definition without touching a cluster.
var validateCmd = &cobra.Command{
	Use:   "validate <monitor-file>",
	Short: "Validate a monitor definition file",
	Long: `Validate parses a monitor definition (YAML or JSON), checks its
structure, compiles every trigger condition, and compiles every action
template. Nothing is executed.

Examples:
  vigilctl validate monitor.yaml
  vigilctl validate monitor.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		monitor, err := model.LoadMonitorFile(args[0])
		if err != nil {
			return err
		}

		for _, tr := range monitor.Triggers {
			if err := trigger.CheckSyntax(monitor, tr); err != nil {
				return err
			}
			for _, act := range tr.Actions {
				if err := checkTemplates(tr, act); err != nil {
					return err
				}
			}
		}

		fmt.Printf("%s: OK (%d inputs, %d triggers)\n", args[0], len(monitor.Inputs), len(monitor.Triggers))
		return nil
	},
}

func checkTemplates(tr model.Trigger, act model.Action) error {
	if act.SubjectTemplate != "" {
		if _, err := template.New("subject").Parse(act.SubjectTemplate); err != nil {
			return fmt.Errorf("trigger %q action %q subject template: %w", tr.Name, act.Name, err)
		}
	}
	if _, err := template.New("message").Parse(act.MessageTemplate); err != nil {
		return fmt.Errorf("trigger %q action %q message template: %w", tr.Name, act.Name, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
