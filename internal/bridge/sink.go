// ABOUTME: Room sink delivering council turns to a Matrix room
// ABOUTME: Sends goldmark HTML with a tag-stripped body and retries once as plain text

package bridge

import (
	"context"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-council/internal/format"
)

// sendTimeout bounds one message send. Messages can be large.
const sendTimeout = 30 * time.Second

// networkTimeout is the timeout for small Matrix API calls.
const networkTimeout = 10 * time.Second

// typingTimeout is how long one typing notification lasts on the homeserver.
const typingTimeout = 30 * time.Second

// matrixAPI is the part of *mautrix.Client the bridge sends through.
type matrixAPI interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// roomSink implements council.Sink for one room.
type roomSink struct {
	api       matrixAPI
	roomID    id.RoomID
	formatter *format.Formatter
	logger    *slog.Logger
}

// Deliver sends text under a role header. It never returns an error; false means
// neither the formatted nor the plain message reached the room.
func (s *roomSink) Deliver(ctx context.Context, text, displayRole string) bool {
	msg, err := s.formatter.Render(displayRole, text)
	if err != nil {
		s.logger.Warn("formatting failed, sending plain text", "room", s.roomID.String(), "error", err)
	} else {
		content := &event.MessageEventContent{
			MsgType:       event.MsgText,
			Body:          format.Plain(msg.HTML),
			Format:        event.FormatHTML,
			FormattedBody: msg.HTML,
		}
		err = s.send(ctx, content)
		if err == nil {
			return true
		}
		s.logger.Warn("formatted send failed, retrying as plain text", "room", s.roomID.String(), "error", err)
	}

	plain := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Plain,
	}
	if err := s.send(ctx, plain); err != nil {
		s.logger.Error("failed to send message", "room", s.roomID.String(), "error", err)
		return false
	}
	return true
}

func (s *roomSink) send(ctx context.Context, content *event.MessageEventContent) error {
	// deliveries still go out while the process drains on shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	_, err := s.api.SendMessageEvent(ctx, s.roomID, event.EventMessage, content)
	return err
}
