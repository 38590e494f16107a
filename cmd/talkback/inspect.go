package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/voice-talkback/internal/confirm"
	"github.com/nupi-ai/voice-talkback/internal/risk"
)

func newClassifyCmd() *cobra.Command {
	var (
		argsJSON     string
		noShell      bool
		noGit        bool
		noFileWrites bool
	)
	cmd := &cobra.Command{
		Use:   "classify <tool> [command or path]",
		Short: "Show how a tool invocation would be classified",
		Example: `  talkback classify bash "rm -rf /tmp/x"
  talkback classify write .env
  talkback classify edit --args '{"filePath":"~/.ssh/config"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("decode --args: %w", err)
				}
			}
			if len(args) > 1 {
				subject := strings.Join(args[1:], " ")
				toolArgs["command"] = subject
				toolArgs["filePath"] = subject
			}

			toggles := risk.Toggles{Shell: !noShell, Git: !noGit, FileWrite: !noFileWrites}
			cls, ok := risk.Classify(args[0], toolArgs, toggles)
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "not classified: allowed without confirmation")
				return nil
			}
			fmt.Fprintln(out, cls.String())
			if cls.RequiresConfirmation {
				fmt.Fprintln(out, "requires confirmation")
			} else {
				fmt.Fprintln(out, "allowed without confirmation")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().BoolVar(&noShell, "no-confirm-shell", false, "Disable confirmation for shell commands")
	cmd.Flags().BoolVar(&noGit, "no-confirm-git", false, "Disable confirmation for git operations")
	cmd.Flags().BoolVar(&noFileWrites, "no-confirm-file-writes", false, "Disable confirmation for file writes")
	return cmd
}

func newVerdictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verdict <utterance>",
		Short: "Show how a spoken answer to a confirmation is interpreted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := confirm.ParseVerdict(strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		},
	}
}
