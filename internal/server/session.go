package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/Tyrowin/chatmk/pkg/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session drives one connection from identity check to close. It owns the
// rate limiter for its identity; a reconnect starts with a fresh one.
type Session struct {
	srv      *Server
	identity string
	client   *Client
	bucket   *LeakyBucket
	logger   *zap.Logger

	state     atomic.Int32
	closeOnce sync.Once
}

func newSession(srv *Server, client *Client) *Session {
	return &Session{
		srv:      srv,
		identity: client.Identity(),
		client:   client,
		bucket:   NewLeakyBucket(srv.cfg.RateLimit.Capacity, srv.cfg.RateLimit.LeakRate),
		logger:   client.logger.Named("session"),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run activates the session and reads frames until the connection drops.
func (s *Session) Run(ctx context.Context) {
	if !s.activate(ctx) {
		return
	}
	defer s.Close()

	go s.client.writePump()
	s.client.setupReadConnection()

	for {
		raw, err := s.client.ReadFrame()
		if err != nil {
			s.client.logReadError(err)
			return
		}
		s.handle(ctx, raw)
	}
}

// activate performs the Connecting to Active transition. Unknown
// identities are closed with CloseUserNotFound and never registered.
func (s *Session) activate(ctx context.Context) bool {
	sctx, cancel := s.storeContext(ctx)
	exists, err := s.srv.store.Exists(sctx, s.identity)
	cancel()

	if err != nil || !exists {
		if err != nil {
			s.logger.Warn("identity check failed", zap.Error(err))
		}
		s.state.Store(int32(StateClosed))
		s.srv.metrics.SessionRejected()
		s.client.CloseWithCode(CloseUserNotFound, "User not found")
		return false
	}

	evicted, ok := s.srv.hub.Register(s.identity, s.client)
	if !ok {
		s.state.Store(int32(StateClosed))
		s.srv.metrics.SessionRejected()
		return false
	}
	if evicted != nil {
		s.logger.Info("replacing previous connection", zap.String("evicted_conn_id", evicted.ID()))
		evicted.CloseWithCode(CloseSessionReplaced, "session replaced")
	}
	s.state.Store(int32(StateActive))
	s.srv.metrics.SessionOpened()
	s.srv.broadcastPresence(ctx)
	return true
}

// Close moves the session to Closed. It runs once no matter how many
// paths reach it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))
		released := s.srv.hub.Release(s.client)
		s.client.CloseWithCode(websocket.CloseNormalClosure, "")
		s.bucket = nil

		if prev == StateActive {
			s.srv.metrics.SessionClosed()
		}
		if released {
			s.srv.broadcastPresence(context.Background())
		}
		s.logger.Debug("session closed", zap.Bool("released", released))
	})
}

func (s *Session) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.srv.cfg.Store.Timeout)
}

// handle decodes and dispatches one inbound frame.
func (s *Session) handle(ctx context.Context, raw []byte) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		s.logger.Debug("dropping invalid frame", zap.Error(err))
		s.srv.metrics.EventHandled("invalid", metrics.OutcomeDropped)
		return
	}

	var outcome string
	switch e := ev.(type) {
	case HistoryRequest:
		outcome = s.onHistory(ctx, e)
	case Typing:
		outcome = s.onTyping("user_typing", e.Recipient)
	case StopTyping:
		outcome = s.onTyping("user_stop_typing", e.Recipient)
	case React:
		outcome = s.onReact(ctx, e)
	case Edit:
		outcome = s.onEdit(ctx, e)
	case Delete:
		outcome = s.onDelete(ctx, e)
	case Search:
		outcome = s.onSearch(ctx, e)
	case StatusChange:
		outcome = s.onStatusChange(ctx, e)
	case SendMessage:
		outcome = s.onMessage(ctx, e)
	case MarkRead:
		outcome = s.onMarkRead(ctx, e)
	case Unrecognized:
		s.logger.Debug("dropping unrecognized event", zap.String("type", e.Type))
		outcome = metrics.OutcomeDropped
	default:
		outcome = metrics.OutcomeDropped
	}
	s.srv.metrics.EventHandled(ev.Kind(), outcome)
}

// storeFailed logs a persistence error and maps it to an outcome. Unknown
// message ids are validation drops rather than store failures.
func (s *Session) storeFailed(kind string, err error) string {
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("event references unknown record", zap.String("type", kind))
		return metrics.OutcomeDropped
	}
	s.logger.Warn("store call failed", zap.String("type", kind), zap.Error(err))
	return metrics.OutcomeStoreError
}

func (s *Session) onHistory(ctx context.Context, e HistoryRequest) string {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	limit := s.srv.cfg.History.Limit
	var (
		msgs []store.Message
		err  error
	)
	if e.Recipient == config.GroupRecipient {
		msgs, err = s.srv.store.ReadGroup(sctx, limit)
	} else {
		msgs, err = s.srv.store.ReadDirect(sctx, s.identity, e.Recipient, limit)
	}
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	reactions, err := s.srv.store.ListReactions(sctx, ids...)
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	payload := HistoryPayload{Type: "history", Messages: make([]MessagePayload, 0, len(msgs))}
	for i := range msgs {
		payload.Messages = append(payload.Messages, newMessagePayload(&msgs[i], reactions[msgs[i].ID]))
	}
	s.srv.router.DeliverOne(payload, s.identity)
	return metrics.OutcomeDelivered
}

// onTyping relays typing indicators. In a direct conversation the
// recipient field names the typist.
func (s *Session) onTyping(kind, recipient string) string {
	if recipient == config.GroupRecipient {
		s.srv.router.DeliverGroup(TypingPayload{Type: kind, Username: s.identity, Recipient: config.GroupRecipient}, s.identity)
		return metrics.OutcomeDelivered
	}
	s.srv.router.DeliverOne(TypingPayload{Type: kind, Username: s.identity, Recipient: s.identity}, recipient)
	return metrics.OutcomeDelivered
}

func (s *Session) onReact(ctx context.Context, e React) string {
	if e.MessageID <= 0 || e.Emoji == "" {
		return metrics.OutcomeDropped
	}

	sctx, cancel := s.storeContext(ctx)
	added, err := s.srv.store.ToggleReaction(sctx, e.MessageID, s.identity, e.Emoji)
	cancel()
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	action := "added"
	if !added {
		action = "removed"
	}
	s.srv.router.DeliverGroup(ReactionUpdatePayload{
		Type:      "reaction_update",
		MessageID: e.MessageID,
		Emoji:     e.Emoji,
		Username:  s.identity,
		Action:    action,
	}, "")
	return metrics.OutcomeDelivered
}

func (s *Session) onEdit(ctx context.Context, e Edit) string {
	text := strings.TrimSpace(e.NewText)
	if e.MessageID <= 0 || text == "" {
		return metrics.OutcomeDropped
	}

	sctx, cancel := s.storeContext(ctx)
	err := s.srv.store.SetBody(sctx, e.MessageID, text)
	cancel()
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	s.srv.router.DeliverGroup(MessageEditedPayload{
		Type:      "message_edited",
		MessageID: e.MessageID,
		NewText:   text,
		Editor:    s.identity,
	}, "")
	return metrics.OutcomeDelivered
}

func (s *Session) onDelete(ctx context.Context, e Delete) string {
	if e.MessageID <= 0 {
		return metrics.OutcomeDropped
	}

	sctx, cancel := s.storeContext(ctx)
	err := s.srv.store.SetDeleted(sctx, e.MessageID)
	cancel()
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	s.srv.router.DeliverGroup(MessageDeletedPayload{Type: "message_deleted", MessageID: e.MessageID}, "")
	return metrics.OutcomeDelivered
}

func (s *Session) onSearch(ctx context.Context, e Search) string {
	query := strings.TrimSpace(e.Query)
	if query == "" {
		return metrics.OutcomeDropped
	}

	sctx, cancel := s.storeContext(ctx)
	found, err := s.srv.store.Search(sctx, query, s.identity)
	cancel()
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	s.srv.router.DeliverOne(SearchResultsPayload{Type: "search_results", Results: newSearchHits(found)}, s.identity)
	return metrics.OutcomeDelivered
}

func (s *Session) onStatusChange(ctx context.Context, e StatusChange) string {
	sctx, cancel := s.storeContext(ctx)
	err := s.srv.store.SetStatus(sctx, s.identity, e.Status, e.StatusMessage)
	cancel()
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}

	s.srv.router.DeliverGroup(StatusChangedPayload{
		Type:          "user_status_changed",
		Username:      s.identity,
		Status:        e.Status,
		StatusMessage: e.StatusMessage,
	}, "")
	return metrics.OutcomeDelivered
}

// onMessage admits, persists and delivers a chat message. Admission runs
// before any validation so that empty frames still count against the
// sender.
func (s *Session) onMessage(ctx context.Context, e SendMessage) string {
	if ok, wait := s.bucket.Admit(1); !ok {
		s.logger.Info("rate limited", zap.Duration("wait", wait))
		s.srv.router.DeliverOne(WarningPayload{Type: "warning", Message: warningText(wait)}, s.identity)
		return metrics.OutcomeRateLimited
	}

	body := strings.TrimSpace(e.Message)
	if body == "" && (e.FileURL == nil || *e.FileURL == "") {
		return metrics.OutcomeDropped
	}

	msg := &store.Message{
		Sender:    s.identity,
		Recipient: e.Recipient,
		Body:      body,
		CreatedAt: s.srv.now(),
		ReplyTo:   e.ReplyTo,
		FileURL:   e.FileURL,
		FileType:  e.FileType,
	}
	sctx, cancel := s.storeContext(ctx)
	id, err := s.srv.store.AppendMessage(sctx, msg)
	cancel()
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}
	msg.ID = id

	payload := newMessagePayload(msg, nil)
	payload.Type = "message"
	if msg.Recipient == config.GroupRecipient {
		s.srv.router.DeliverGroup(payload, "")
	} else {
		s.srv.router.DeliverDirect(payload, msg.Recipient, s.identity)
	}
	return metrics.OutcomeDelivered
}

// onMarkRead records a receipt and tells the author, once, when they are
// online.
func (s *Session) onMarkRead(ctx context.Context, e MarkRead) string {
	if e.MessageID <= 0 {
		return metrics.OutcomeDropped
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	msg, err := s.srv.store.GetMessage(sctx, e.MessageID)
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}
	marked, err := s.srv.store.MarkRead(sctx, e.MessageID, s.identity)
	if err != nil {
		return s.storeFailed(e.Kind(), err)
	}
	if !marked || msg.Sender == s.identity {
		return metrics.OutcomeDropped
	}

	s.srv.router.DeliverOne(ReadReceiptPayload{
		Type:      "read_receipt",
		MessageID: e.MessageID,
		Reader:    s.identity,
		ReadAt:    formatTimestamp(s.srv.now()),
	}, msg.Sender)
	return metrics.OutcomeDelivered
}
