package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/asoloa/ambot/internal/conversation"
	"github.com/asoloa/ambot/internal/tui"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAskCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			var s *spinner.Spinner
			if term.IsTerminal(int(os.Stderr.Fd())) {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " thinking..."
				s.Writer = os.Stderr
				s.Start()
			}
			reply, err := a.newSession().Ask(cmd.Context(), question)
			if s != nil {
				s.Stop()
			}

			label := color.New(color.FgCyan, color.Bold).Sprintf("%s bot:", a.subject())
			if err != nil {
				fmt.Fprintf(out, "%s %s\n", label, color.RedString(conversation.ErrorReply))
				return err
			}

			answer := reply.Answer
			if !raw {
				answer = tui.HTMLToText(answer)
			}
			fmt.Fprintf(out, "%s %s\n", label, answer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the answer HTML as received")
	return cmd
}
