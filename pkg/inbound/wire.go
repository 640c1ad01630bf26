package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Webhook opcodes.
const (
	OpDispatch        = 0
	OpHTTPCallbackAck = 12
	OpValidation      = 13
)

// Dispatch event types delivered by the platform.
const (
	EventC2CMessage         = "C2C_MESSAGE_CREATE"
	EventGroupAtMessage     = "GROUP_AT_MESSAGE_CREATE"
	EventGroupMessage       = "GROUP_MESSAGE_CREATE"
	EventDirectMessage      = "DIRECT_MESSAGE_CREATE"
	EventGuildAtMessage     = "AT_MESSAGE_CREATE"
	EventGuildMessage       = "MESSAGE_CREATE"
	EventInteraction        = "INTERACTION_CREATE"
	EventForumPostCreate    = "FORUM_POST_CREATE"
	EventForumPostDelete    = "FORUM_POST_DELETE"
	EventForumReplyCreate   = "FORUM_REPLY_CREATE"
	EventForumReplyDelete   = "FORUM_REPLY_DELETE"
	EventGroupAddRobot      = "GROUP_ADD_ROBOT"
	EventGroupDelRobot      = "GROUP_DEL_ROBOT"
	EventGroupMsgReceive    = "GROUP_MSG_RECEIVE"
	EventGroupMsgReject     = "GROUP_MSG_REJECT"
	EventFriendAdd          = "FRIEND_ADD"
	EventFriendDel          = "FRIEND_DEL"
	EventC2CMsgReceive      = "C2C_MSG_RECEIVE"
	EventC2CMsgReject       = "C2C_MSG_REJECT"
	EventGuildMemberAdd     = "GUILD_MEMBER_ADD"
	EventGuildMemberRemove  = "GUILD_MEMBER_REMOVE"
	EventGuildMemberUpdate  = "GUILD_MEMBER_UPDATE"
	EventGuildCreate        = "GUILD_CREATE"
	EventGuildDelete        = "GUILD_DELETE"
	EventGuildUpdate        = "GUILD_UPDATE"
	EventChannelCreate      = "CHANNEL_CREATE"
	EventChannelDelete      = "CHANNEL_DELETE"
	EventChannelUpdate      = "CHANNEL_UPDATE"
	EventMessageAuditPass   = "MESSAGE_AUDIT_PASS"
	EventMessageAuditReject = "MESSAGE_AUDIT_REJECT"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// Payload is the webhook envelope.
type Payload struct {
	Op   int             `json:"op"`
	ID   string          `json:"id,omitempty"`
	Seq  int64           `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// DecodePayload reads the envelope without decoding the event body.
func DecodePayload(body []byte) (Payload, error) {
	if !gjson.ValidBytes(body) {
		return Payload{}, fmt.Errorf("%w: malformed json", ErrInvalidPayload)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Payload{}, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}
	p := Payload{
		Op:   int(root.Get("op").Int()),
		ID:   root.Get("id").String(),
		Seq:  root.Get("s").Int(),
		Type: root.Get("t").String(),
	}
	if d := root.Get("d"); d.Exists() {
		p.Data = json.RawMessage(d.Raw)
	}
	// Some senders omit op on dispatches; plain_token still marks validation.
	if p.Op == OpDispatch && root.Get("d.plain_token").Exists() {
		p.Op = OpValidation
	}
	return p, nil
}

// Author is the sender block of message events.
type Author struct {
	ID           string `json:"id"`
	UserOpenID   string `json:"user_openid,omitempty"`
	MemberOpenID string `json:"member_openid,omitempty"`
	Username     string `json:"username,omitempty"`
	Avatar       string `json:"avatar,omitempty"`
	Bot          bool   `json:"bot,omitempty"`
}

// UserID is the id the platform expects when addressing the author.
func (a Author) UserID() string {
	switch {
	case a.UserOpenID != "":
		return a.UserOpenID
	case a.MemberOpenID != "":
		return a.MemberOpenID
	default:
		return a.ID
	}
}

type Member struct {
	Nick     string   `json:"nick,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	JoinedAt string   `json:"joined_at,omitempty"`
}

type Attachment struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename,omitempty"`
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Size        int    `json:"size,omitempty"`
}

// FileURL returns the attachment url with a scheme.
func (a Attachment) FileURL() string {
	if a.URL == "" || strings.Contains(a.URL, "://") {
		return a.URL
	}
	return "https://" + a.URL
}

type MessageReference struct {
	MessageID string `json:"message_id"`
}

// MessageEvent is the body of every message dispatch.
type MessageEvent struct {
	ID               string            `json:"id"`
	Author           Author            `json:"author"`
	Content          string            `json:"content"`
	Timestamp        string            `json:"timestamp,omitempty"`
	GroupID          string            `json:"group_id,omitempty"`
	GroupOpenID      string            `json:"group_openid,omitempty"`
	GuildID          string            `json:"guild_id,omitempty"`
	ChannelID        string            `json:"channel_id,omitempty"`
	SrcGuildID       string            `json:"src_guild_id,omitempty"`
	Member           Member            `json:"member,omitempty"`
	Mentions         []Author          `json:"mentions,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}

// Group returns the group id the platform expects for replies.
func (e MessageEvent) Group() string {
	if e.GroupOpenID != "" {
		return e.GroupOpenID
	}
	return e.GroupID
}

// Resolved is the clicked button of an interaction.
type Resolved struct {
	ButtonID   string `json:"button_id,omitempty"`
	ButtonData string `json:"button_data,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

// Interaction chat types.
const (
	ChatGuild = 0
	ChatGroup = 1
	ChatC2C   = 2
)

// Interaction is a button click.
type Interaction struct {
	ID                string `json:"id"`
	Type              int    `json:"type"`
	ChatType          int    `json:"chat_type"`
	Scene             string `json:"scene,omitempty"`
	GroupOpenID       string `json:"group_openid,omitempty"`
	GroupMemberOpenID string `json:"group_member_openid,omitempty"`
	UserOpenID        string `json:"user_openid,omitempty"`
	GuildID           string `json:"guild_id,omitempty"`
	ChannelID         string `json:"channel_id,omitempty"`
	Data              struct {
		Type     int      `json:"type"`
		Resolved Resolved `json:"resolved"`
	} `json:"data"`
}

// OperatorID is the id of the user who clicked.
func (i Interaction) OperatorID() string {
	switch {
	case i.GroupMemberOpenID != "":
		return i.GroupMemberOpenID
	case i.UserOpenID != "":
		return i.UserOpenID
	default:
		return i.Data.Resolved.UserID
	}
}

// NoticeType of the interaction in the canonical model.
func (i Interaction) NoticeType() string {
	switch i.ChatType {
	case ChatGroup:
		return "group"
	case ChatC2C:
		return "friend"
	case ChatGuild:
		return "guild"
	default:
		return ""
	}
}

// noticeEvents maps platform notices to canonical notice and sub types.
var noticeEvents = map[string][2]string{
	EventGroupAddRobot:     {"group", "increase"},
	EventGroupDelRobot:     {"group", "decrease"},
	EventGroupMsgReceive:   {"group", "receive_open"},
	EventGroupMsgReject:    {"group", "receive_close"},
	EventFriendAdd:         {"friend", "increase"},
	EventFriendDel:         {"friend", "decrease"},
	EventC2CMsgReceive:     {"friend", "receive_open"},
	EventC2CMsgReject:      {"friend", "receive_close"},
	EventGuildMemberAdd:    {"guild", "member.increase"},
	EventGuildMemberRemove: {"guild", "member.decrease"},
	EventGuildMemberUpdate: {"guild", "member.update"},
	EventGuildCreate:       {"guild", "add"},
	EventGuildDelete:       {"guild", "remove"},
	EventGuildUpdate:       {"guild", "update"},
	EventChannelCreate:     {"channel", "add"},
	EventChannelDelete:     {"channel", "remove"},
	EventChannelUpdate:     {"channel", "update"},
}

// forumEvents maps forum dispatches to canonical event names.
var forumEvents = map[string]string{
	EventForumPostCreate:  "forum.post.create",
	EventForumPostDelete:  "forum.post.delete",
	EventForumReplyCreate: "forum.reply.create",
	EventForumReplyDelete: "forum.reply.delete",
}
