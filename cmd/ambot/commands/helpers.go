package commands

import (
	"time"

	"github.com/asoloa/ambot/internal/conversation"
	"github.com/asoloa/ambot/internal/transport"
	"github.com/asoloa/ambot/internal/tui"
)

func (a *app) newSession() *conversation.Session {
	ch := a.cfg.Chat
	opts := []transport.Option{
		transport.WithMaxTokens(ch.MaxTokens),
		transport.WithTimeout(time.Duration(ch.TimeoutSeconds) * time.Second),
	}
	if ch.Temperature != nil {
		opts = append(opts, transport.WithTemperature(*ch.Temperature))
	}
	client := transport.New(ch.Endpoint, opts...)
	return conversation.NewSession(a.store, client, conversation.WithMaxHistory(ch.MaxHistory))
}

func (a *app) subject() string {
	if a.cfg.Subject != "" {
		return a.cfg.Subject
	}
	return a.store.Current().SubjectName()
}

func (a *app) chatOptions() tui.Options {
	kb := a.store.Current()
	return tui.Options{
		Subject:         a.subject(),
		Greeting:        kb.Greeting,
		SampleQuestions: kb.SampleQuestions,
	}
}
