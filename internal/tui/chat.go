// Package tui implements the terminal rendition of the chat widget.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/asoloa/ambot/internal/conversation"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Asker runs one chat turn. *conversation.Session implements it.
type Asker interface {
	Ask(ctx context.Context, question string) (conversation.Reply, error)
}

// Options configures the chat window.
type Options struct {
	Subject         string
	Greeting        string
	SampleQuestions []string
}

type lineKind int

const (
	lineUser lineKind = iota
	lineBot
	lineError
)

type chatLine struct {
	kind lineKind
	text string
}

// answerMsg carries the outcome of one turn back into the update loop.
type answerMsg struct {
	reply conversation.Reply
	err   error
}

// ChatModel is the bubbletea model of the chat window.
type ChatModel struct {
	ctx      context.Context
	asker    Asker
	opts     Options
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	lines    []chatLine
	pending  bool
	sample   int
	width    int
	height   int
	quitting bool
}

// NewChatModel creates a chat window backed by asker.
func NewChatModel(ctx context.Context, asker Asker, opts Options) ChatModel {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Subject == "" {
		opts.Subject = "the site owner"
	}

	in := textinput.New()
	in.Placeholder = fmt.Sprintf("Ask about %s...", opts.Subject)
	in.CharLimit = 1000
	in.Prompt = "› "
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := ChatModel{
		ctx:      ctx,
		asker:    asker,
		opts:     opts,
		input:    in,
		viewport: viewport.New(76, 16),
		spinner:  s,
		width:    80,
		height:   24,
	}
	if opts.Greeting != "" {
		m.lines = append(m.lines, chatLine{kind: lineBot, text: opts.Greeting})
	}
	m.refresh()
	return m
}

func (m ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = max(m.width-4, 20)
		m.viewport.Height = max(m.height-9, 4)
		m.input.Width = max(m.width-8, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyTab:
			if m.input.Value() == "" && len(m.opts.SampleQuestions) > 0 {
				m.input.SetValue(m.opts.SampleQuestions[m.sample%len(m.opts.SampleQuestions)])
				m.input.CursorEnd()
				m.sample++
				return m, nil
			}
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.pending = false
		switch {
		case msg.err == nil:
			m.lines = append(m.lines, chatLine{kind: lineBot, text: HTMLToText(msg.reply.Answer)})
		case errors.Is(msg.err, conversation.ErrTurnInProgress):
		default:
			m.lines = append(m.lines, chatLine{kind: lineError, text: conversation.ErrorReply})
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the typed question. While a turn is in flight Enter is ignored
// and the typed text is kept.
func (m ChatModel) submit() (tea.Model, tea.Cmd) {
	if m.pending {
		return m, nil
	}
	question := strings.TrimSpace(m.input.Value())
	if question == "" {
		return m, nil
	}
	m.input.Reset()
	m.pending = true
	m.lines = append(m.lines, chatLine{kind: lineUser, text: question})
	m.refresh()
	return m, tea.Batch(m.askCmd(question), m.spinner.Tick)
}

func (m ChatModel) askCmd(question string) tea.Cmd {
	asker, ctx := m.asker, m.ctx
	return func() tea.Msg {
		reply, err := asker.Ask(ctx, question)
		return answerMsg{reply: reply, err: err}
	}
}

// Pending reports whether a turn is in flight.
func (m ChatModel) Pending() bool { return m.pending }

// Transcript returns the rendered conversation without styling.
func (m ChatModel) Transcript() string {
	parts := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		label := "You"
		if l.kind != lineUser {
			label = m.opts.Subject + " bot"
		}
		parts = append(parts, label+": "+l.text)
	}
	return strings.Join(parts, "\n\n")
}

func (m *ChatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(max(m.viewport.Width-2, 10))
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch l.kind {
		case lineUser:
			b.WriteString(UserLabelStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(wrap.Render(l.text))
		case lineBot:
			b.WriteString(BotLabelStyle.Render("Bot"))
			b.WriteString("\n")
			b.WriteString(wrap.Render(l.text))
		case lineError:
			b.WriteString(ErrorTextStyle.Render(wrap.Render(l.text)))
		}
	}
	if len(m.lines) <= 1 && len(m.opts.SampleQuestions) > 0 {
		b.WriteString("\n\n")
		b.WriteString(SubtitleStyle.Render("Try asking:"))
		for _, q := range m.opts.SampleQuestions {
			b.WriteString("\n")
			b.WriteString(SampleStyle.Render("• " + q))
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m ChatModel) View() string {
	if m.quitting {
		return ""
	}
	title := TitleStyle.Render(fmt.Sprintf("Chat about %s", m.opts.Subject))

	status := HelpStyle.Render("enter send • tab sample question • ↑/↓ scroll • esc quit")
	if m.pending {
		status = m.spinner.View() + " " + SubtitleStyle.Render("Thinking...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		TranscriptStyle.Render(m.viewport.View()),
		InputStyle.Render(m.input.View()),
		status,
	)
}
