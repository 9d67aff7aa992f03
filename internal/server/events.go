package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatmk/internal/config"
	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/tidwall/gjson"
)

// ErrMalformedEvent is returned for frames that are not a JSON object.
var ErrMalformedEvent = errors.New("malformed event")

// timestampLayout formats message times on the wire.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Event is an inbound frame decoded into one of the known kinds.
type Event interface {
	Kind() string
}

type HistoryRequest struct {
	Recipient string `json:"recipient"`
}

type Typing struct {
	Recipient string `json:"recipient"`
}

type StopTyping struct {
	Recipient string `json:"recipient"`
}

type React struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type Edit struct {
	MessageID int64  `json:"message_id"`
	NewText   string `json:"new_text"`
}

type Delete struct {
	MessageID int64 `json:"message_id"`
}

type Search struct {
	Query string `json:"query"`
}

type StatusChange struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
}

// SendMessage carries a new chat message. The sender is never taken from
// the frame.
type SendMessage struct {
	Message   string  `json:"message"`
	Recipient string  `json:"recipient"`
	ReplyTo   *int64  `json:"reply_to"`
	FileURL   *string `json:"file_url"`
	FileType  *string `json:"file_type"`
}

type MarkRead struct {
	MessageID int64 `json:"message_id"`
}

// Unrecognized is any frame whose type is missing or unknown.
type Unrecognized struct {
	Type string
}

func (HistoryRequest) Kind() string { return "get_history" }
func (Typing) Kind() string         { return "typing" }
func (StopTyping) Kind() string     { return "stop_typing" }
func (React) Kind() string          { return "react" }
func (Edit) Kind() string           { return "edit" }
func (Delete) Kind() string         { return "delete" }
func (Search) Kind() string         { return "search" }
func (StatusChange) Kind() string   { return "status_change" }
func (SendMessage) Kind() string    { return "message" }
func (MarkRead) Kind() string       { return "mark_read" }
func (Unrecognized) Kind() string   { return "unrecognized" }

// DecodeEvent validates raw and decodes it into the variant named by its
// type field. Unknown fields are ignored; unknown types yield Unrecognized.
func DecodeEvent(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedEvent
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrMalformedEvent
	}

	kind := root.Get("type")
	if kind.Type != gjson.String {
		return Unrecognized{}, nil
	}

	var ev Event
	var err error
	switch kind.Str {
	case "get_history":
		ev, err = decodeInto[HistoryRequest](raw)
	case "typing":
		ev, err = decodeInto[Typing](raw)
	case "stop_typing":
		ev, err = decodeInto[StopTyping](raw)
	case "react":
		ev, err = decodeInto[React](raw)
	case "edit":
		ev, err = decodeInto[Edit](raw)
	case "delete":
		ev, err = decodeInto[Delete](raw)
	case "search":
		ev, err = decodeInto[Search](raw)
	case "status_change":
		ev, err = decodeInto[StatusChange](raw)
	case "message":
		ev, err = decodeInto[SendMessage](raw)
	case "mark_read":
		ev, err = decodeInto[MarkRead](raw)
	default:
		return Unrecognized{Type: kind.Str}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind.Str, err)
	}
	return withDefaults(ev), nil
}

func decodeInto[T Event](raw []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func withDefaults(ev Event) Event {
	switch e := ev.(type) {
	case HistoryRequest:
		if e.Recipient == "" {
			e.Recipient = config.GroupRecipient
		}
		return e
	case Typing:
		if e.Recipient == "" {
			e.Recipient = config.GroupRecipient
		}
		return e
	case StopTyping:
		if e.Recipient == "" {
			e.Recipient = config.GroupRecipient
		}
		return e
	case SendMessage:
		if e.Recipient == "" {
			e.Recipient = config.GroupRecipient
		}
		return e
	case StatusChange:
		if e.Status == "" {
			e.Status = "online"
		}
		return e
	}
	return ev
}

// Outbound payloads.

type ReactionPayload struct {
	Emoji    string `json:"emoji"`
	Username string `json:"username"`
}

// MessagePayload is a chat message as clients see it, both live and in
// history replies.
type MessagePayload struct {
	Type      string            `json:"type,omitempty"`
	ID        int64             `json:"id"`
	Sender    string            `json:"sender"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
	Recipient string            `json:"recipient"`
	ReplyTo   *int64            `json:"reply_to"`
	FileURL   *string           `json:"file_url"`
	FileType  *string           `json:"file_type"`
	Edited    bool              `json:"edited"`
	Deleted   bool              `json:"deleted"`
	Reactions []ReactionPayload `json:"reactions"`
}

type HistoryPayload struct {
	Type     string           `json:"type"`
	Messages []MessagePayload `json:"messages"`
}

type TypingPayload struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Recipient string `json:"recipient"`
}

type ReactionUpdatePayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
	Username  string `json:"username"`
	Action    string `json:"action"`
}

type MessageEditedPayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	NewText   string `json:"new_text"`
	Editor    string `json:"editor"`
}

type MessageDeletedPayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// SearchHit is one search result.
type SearchHit struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type SearchResultsPayload struct {
	Type    string      `json:"type"`
	Results []SearchHit `json:"results"`
}

type StatusChangedPayload struct {
	Type          string `json:"type"`
	Username      string `json:"username"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
}

type WarningPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type UserListPayload struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type ReadReceiptPayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Reader    string `json:"reader"`
	ReadAt    string `json:"read_at"`
}

func newMessagePayload(m *store.Message, reactions []store.Reaction) MessagePayload {
	p := MessagePayload{
		ID:        m.ID,
		Sender:    m.Sender,
		Message:   m.Body,
		Timestamp: formatTimestamp(m.CreatedAt),
		Recipient: m.Recipient,
		ReplyTo:   m.ReplyTo,
		FileURL:   m.FileURL,
		FileType:  m.FileType,
		Edited:    m.Edited,
		Deleted:   m.Deleted,
		Reactions: make([]ReactionPayload, 0, len(reactions)),
	}
	for _, r := range reactions {
		p.Reactions = append(p.Reactions, ReactionPayload{Emoji: r.Emoji, Username: r.Username})
	}
	return p
}

func newSearchHits(msgs []store.Message) []SearchHit {
	hits := make([]SearchHit, 0, len(msgs))
	for _, m := range msgs {
		hits = append(hits, SearchHit{
			ID:        m.ID,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Message:   m.Body,
			Timestamp: formatTimestamp(m.CreatedAt),
		})
	}
	return hits
}

func newUserList(users []string) UserListPayload {
	if users == nil {
		users = []string{}
	}
	return UserListPayload{Type: "user_list", Users: users}
}

func warningText(wait time.Duration) string {
	return fmt.Sprintf("Slow down! Please wait %d seconds before sending another message.", int(wait/time.Second))
}

func formatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}
