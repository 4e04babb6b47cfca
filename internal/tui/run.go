package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the chat window on the terminal and blocks until the user quits.
func Run(ctx context.Context, asker Asker, opts Options) error {
	p := tea.NewProgram(NewChatModel(ctx, asker, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run chat window: %w", err)
	}
	return nil
}

// RunWithIO runs the chat window with custom input and output, without the
// alternate screen.
func RunWithIO(ctx context.Context, asker Asker, opts Options, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(
		NewChatModel(ctx, asker, opts),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run chat window: %w", err)
	}
	return nil
}
