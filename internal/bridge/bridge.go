// ABOUTME: Matrix bridge connecting rooms to the expert council
// ABOUTME: Syncs with mautrix, filters and dedupes events, runs commands and submits tasks per room

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-council/internal/council"
	"github.com/2389/coven-council/internal/dedupe"
	"github.com/2389/coven-council/internal/format"
)

// Frontend is the owner-key namespace of Matrix rooms.
const Frontend = "matrix"

// Options configures a Bridge.
type Options struct {
	Service         *council.Service
	Client          *mautrix.Client
	AllowedRooms    []string
	CommandPrefix   string
	TypingIndicator bool
	Formatter       *format.Formatter
	Dedupe          *dedupe.Cache
	Logger          *slog.Logger
}

// Bridge connects Matrix rooms to the council. Each room is one session owner.
type Bridge struct {
	svc       *council.Service
	client    *mautrix.Client
	api       matrixAPI
	userID    id.UserID
	allowed   map[string]bool
	prefix    string
	typing    bool
	formatter *format.Formatter
	seen      *dedupe.Cache
	logger    *slog.Logger

	// ctx is the parent context for task goroutines
	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a bridge. The client must already carry credentials or be logged in
// with Login before Run.
func New(opts Options) (*Bridge, error) {
	if opts.Service == nil {
		return nil, errors.New("council service is required")
	}
	if opts.Client == nil {
		return nil, errors.New("matrix client is required")
	}
	b := newBridge(opts, opts.Client)
	b.client = opts.Client
	b.userID = opts.Client.UserID
	return b, nil
}

func newBridge(opts Options, api matrixAPI) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	formatter := opts.Formatter
	if formatter == nil {
		formatter = format.New()
	}
	seen := opts.Dedupe
	if seen == nil {
		seen = dedupe.New(0, 0)
	}
	prefix := opts.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	allowed := make(map[string]bool, len(opts.AllowedRooms))
	for _, r := range opts.AllowedRooms {
		allowed[r] = true
	}
	return &Bridge{
		svc:       opts.Service,
		api:       api,
		allowed:   allowed,
		prefix:    prefix,
		typing:    opts.TypingIndicator,
		formatter: formatter,
		seen:      seen,
		logger:    logger.With("component", "matrix"),
		ctx:       context.Background(),
	}
}

// Login authenticates with username and password and stores the access token on
// the client.
func (b *Bridge) Login(ctx context.Context, username, password string) error {
	resp, err := b.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:                 password,
		InitialDeviceDisplayName: "coven-council",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("logging in as %s: %w", username, err)
	}
	b.userID = resp.UserID
	b.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// UserID returns the bot's Matrix user id.
func (b *Bridge) UserID() id.UserID {
	return b.userID
}

// Run syncs until ctx is cancelled, then waits for running tasks to finish.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.client.HomeserverURL.String(),
		"user_id", b.userID.String(),
	)

	b.ctx = ctx
	defer b.wg.Wait()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		// no handler may start a task once we wait on them
		<-syncErr
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMemberEvent joins rooms the bot is invited to when the room is allowed.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if evt.StateKey == nil || id.UserID(*evt.StateKey) != b.userID {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring invite to non-allowed room", "room", evt.RoomID.String())
		return
	}
	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String())
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == b.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	// Only handle text messages
	if content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	if b.seen.CheckAndMark(evt.ID.String()) {
		b.logger.Debug("dropping duplicate event", "room", roomID, "event_id", evt.ID.String())
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", format.Truncate(body, 50),
	)

	// Process in a goroutine to not block sync
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processMessage(b.ctx, evt.RoomID, body)
	}()
}

// processMessage dispatches commands and submits everything else as a task.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, body string) {
	sink := &roomSink{api: b.api, roomID: roomID, formatter: b.formatter, logger: b.logger}
	owner := council.OwnerKey(Frontend, roomID.String())

	if cmd, ok := strings.CutPrefix(body, b.prefix); ok {
		switch strings.ToLower(strings.TrimSpace(cmd)) {
		case "start", "help":
			sink.Deliver(ctx, b.svc.Welcome(), council.SystemDisplayRole)
		case "reset":
			reply, err := b.svc.Reset(ctx, owner)
			if err != nil && reply == "" {
				b.logger.Error("reset failed", "room", roomID.String(), "error", err)
				reply = "❌ Error: " + err.Error()
			}
			sink.Deliver(ctx, reply, council.SystemDisplayRole)
		default:
			sink.Deliver(ctx, fmt.Sprintf("Unknown command. Use %sstart or %sreset.", b.prefix, b.prefix), council.SystemDisplayRole)
		}
		return
	}

	if b.typing {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	out := b.svc.Submit(ctx, owner, body, sink)
	b.logger.Info("task outcome",
		"room", roomID.String(),
		"status", out.Status.String(),
		"conversation_id", out.ConversationID,
		"rounds", out.Rounds,
	)
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.allowed) == 0 {
		return true // Allow all if no filter
	}
	return b.allowed[roomID]
}

// setTyping sends a typing indicator to the room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.api.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}
