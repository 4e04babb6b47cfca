package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#00D4FF") // Cyan
	SecondaryColor = lipgloss.Color("#6C757D") // Gray
	AccentColor    = lipgloss.Color("#7C3AED") // Purple accent

	ErrorColor   = lipgloss.Color("#EF4444") // Red
	WarningColor = lipgloss.Color("#F59E0B") // Amber

	TextColor   = lipgloss.Color("#E5E7EB") // Light gray text
	MutedColor  = lipgloss.Color("#9CA3AF") // Muted text
	DimColor    = lipgloss.Color("#6B7280") // Dim text
	BorderColor = lipgloss.Color("#4B5563") // Border gray
)

var (
	// TitleStyle is the header line of the chat window.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	// SubtitleStyle for the greeting and hints.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	// UserLabelStyle prefixes questions.
	UserLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor)

	// BotLabelStyle prefixes answers.
	BotLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	// ErrorTextStyle renders failed turns.
	ErrorTextStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// SampleStyle lists suggested questions.
	SampleStyle = lipgloss.NewStyle().
			Foreground(DimColor).
			PaddingLeft(2)

	// HelpStyle is the key hint footer.
	HelpStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	// TranscriptStyle frames the conversation viewport.
	TranscriptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	// InputStyle frames the question input.
	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(SecondaryColor).
			Padding(0, 1)

	// SpinnerStyle colors the in-flight indicator.
	SpinnerStyle = lipgloss.NewStyle().
			Foreground(WarningColor)
)
