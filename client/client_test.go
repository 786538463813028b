package main

import (
	"bytes"
	"testing"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	req := require.New(t)

	cmd, ok, err := parse("  hello there ")
	req.NoError(err)
	req.True(ok)
	req.Equal(Command{Type: "send", Text: "hello there"}, cmd)

	cmd, ok, err = parse("/dm A2")
	req.NoError(err)
	req.True(ok)
	req.Equal(Command{Type: "start", PeerID: "A2"}, cmd)

	cmd, ok, err = parse("/open A1_A2")
	req.NoError(err)
	req.True(ok)
	req.Equal("A1_A2", cmd.ConversationID)

	cmd, ok, err = parse("/width 480")
	req.NoError(err)
	req.True(ok)
	req.Equal(480, cmd.Width)

	_, ok, err = parse("/open")
	req.NoError(err)
	req.False(ok)

	_, ok, err = parse("   ")
	req.NoError(err)
	req.False(ok)

	_, _, err = parse("/quit")
	req.ErrorIs(err, errQuit)

	_, _, err = parse("/dance")
	req.Error(err)
}

func TestRenderer_ListAndWindow(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	r := NewRenderer(&out, "A1")

	r.Render(model.Event{Type: model.EventList, Conversations: []model.ConversationItem{
		{PeerID: "A2", ChatID: "A1_A2", Name: "Bob", LastMessage: &model.Message{Text: "see you"}, UpdatedAt: 1},
		{PeerID: "A3", ChatID: "A1_A3", Name: "@A3", Typing: true},
	}})
	req.Contains(out.String(), "Bob")
	req.Contains(out.String(), "see you")
	req.Contains(out.String(), "typing...")

	out.Reset()
	r.Render(model.Event{
		Type:           model.EventWindow,
		ConversationID: "A1_A2",
		Title:          "Bob",
		HasMore:        lo.ToPtr(true),
		Messages:       []model.Message{{SenderID: "A2", Text: "hi", CreatedAt: 1}},
	})
	req.Contains(out.String(), "Bob")
	req.Contains(out.String(), "A2")
	req.Contains(out.String(), "hi")
	req.Contains(out.String(), "/older")

	out.Reset()
	r.Render(model.Event{Type: model.EventAppended, ConversationID: "A1_A3", Message: &model.Message{SenderID: "A3", Text: "elsewhere"}})
	req.Empty(out.String())
}

func TestRenderer_IndicatorsAndErrors(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	r := NewRenderer(&out, "A1")

	r.Render(model.Event{Type: model.EventTyping, PeerID: "A2", Typing: lo.ToPtr(true)})
	req.Contains(out.String(), "@A2 is typing")

	out.Reset()
	r.Render(model.Event{Type: model.EventTyping, PeerID: "A2", Typing: lo.ToPtr(false)})
	req.Empty(out.String())

	r.Render(model.Event{Type: model.EventPresence, PeerID: "A2", Presence: &model.Presence{State: model.Online}})
	req.Contains(out.String(), "@A2 is online")

	out.Reset()
	r.Render(model.Event{Type: model.EventError, Kind: "write", Error: "write failure", Retryable: true, Text: "draft"})
	req.Contains(out.String(), "write failure")
	req.Contains(out.String(), "unsent: draft")
}
