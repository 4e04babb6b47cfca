package commands

import (
	"errors"
	"os"

	"github.com/asoloa/ambot/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("chat needs an interactive terminal; use 'ambot ask' instead")
			}
			return tui.Run(cmd.Context(), a.newSession(), a.chatOptions())
		},
	}
}
