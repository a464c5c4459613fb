package main

import (
	"context"
	"log/slog"
	"time"

	gohub "github.com/SirGFM/go-hub-i-guess"
)

// Methods that the chat page may invoke.
var chatMethods = map[string][]gohub.ArgType{
	"SendMessage":        {gohub.Arg[string](), gohub.Arg[string]()},
	"JoinGroup":          {gohub.Arg[string]()},
	"LeaveGroup":         {gohub.Arg[string]()},
	"SendMessageToGroup": {gohub.Arg[string](), gohub.Arg[string]()},
	"Broadcast":          {gohub.Arg[string]()},
}

// chatHandler relays messages between the chat's users.
type chatHandler struct {
	logger *slog.Logger
}

// now format the current time, like the messages on the chat page.
func now() string {
	return time.Now().Format("2006-01-02 - 15:04:05 (-0700)")
}

// receive build the message shown on the chat page. `group` is empty for
// direct messages and broadcasts.
func receive(group, from, text string) *gohub.Message {
	return &gohub.Message{
		MethodName: "ReceiveMessage",
		Args:       []any{now(), group, from, text},
	}
}

func (h *chatHandler) OnConnected(ctx context.Context, s *gohub.Session) error {
	h.logger.Info("User connected",
		gohub.LabelClientID.L(s.ClientID()),
		gohub.LabelConnID.L(s.Connection().ID()))
	return nil
}

func (h *chatHandler) OnDisconnected(ctx context.Context, s *gohub.Session) error {
	h.logger.Info("User disconnected",
		gohub.LabelClientID.L(s.ClientID()),
		gohub.LabelConnID.L(s.Connection().ID()))
	return nil
}

func (h *chatHandler) HandleMessage(ctx context.Context, s *gohub.Session, msg *gohub.Message) error {
	from := s.ClientID()

	var err error
	switch msg.MethodName {
	case "SendMessage":
		to, text := msg.Args[0].(string), msg.Args[1].(string)
		err = s.Clients().SendToMany(ctx, []string{to, from}, receive("", from, text))
	case "JoinGroup":
		group := msg.Args[0].(string)
		err = s.Groups().Add(from, group)
		if err == nil {
			err = s.Groups().Send(ctx, group, receive(group, "", from+" joined"))
		}
	case "LeaveGroup":
		group := msg.Args[0].(string)
		err = s.Groups().Remove(from, group)
		if err == nil {
			err = s.Groups().Send(ctx, group, receive(group, "", from+" left"))
		}
	case "SendMessageToGroup":
		group, text := msg.Args[0].(string), msg.Args[1].(string)
		var ok bool
		ok, err = s.Clients().IsInGroup(from, group)
		if err == nil && ok {
			err = s.Groups().Send(ctx, group, receive(group, from, text))
		}
	case "Broadcast":
		err = s.Clients().SendToAll(ctx, receive("", from, msg.Args[0].(string)))
	}

	// A user that can't be reached shouldn't disconnect the sender.
	if err != nil {
		h.logger.Debug("Couldn't deliver message",
			gohub.LabelClientID.L(from),
			gohub.LabelMethod.L(msg.MethodName),
			gohub.LabelError.L(err))
	}
	return nil
}
