package wecom

import (
	"fmt"
	"strings"
)

// Message is a single WeCom callback payload, decoded and field-extracted
// but otherwise unprocessed. It is immutable after construction.
type Message struct {
	MsgID        string
	MsgType      string
	ChatType     string // "single" or "group"
	ChatID       string // empty for single chats
	SenderUserID string
	BotID        string
	ResponseURL  string // empty when the callback carried none
	Raw          map[string]interface{}
}

// ParseInbound extracts the fields WeCom's passive-callback payload carries.
// It fails only when msgtype is missing; every other field falls back to a
// documented default rather than erroring, since the platform is inconsistent
// about which fields accompany which msgtype.
func ParseInbound(raw map[string]interface{}) (*Message, error) {
	msgType, _ := raw["msgtype"].(string)
	if msgType == "" {
		return nil, fmt.Errorf("wecom: missing msgtype")
	}

	chatType, _ := raw["chattype"].(string)
	if chatType == "" {
		chatType = "single"
	}

	chatID, _ := raw["chatid"].(string)

	senderUserID := "unknown"
	if from, ok := raw["from"].(map[string]interface{}); ok {
		if uid, ok := from["userid"].(string); ok && uid != "" {
			senderUserID = uid
		}
	}

	botID, _ := raw["aibotid"].(string)
	if botID == "" {
		botID = "unknown"
	}

	responseURL := ""
	if v, ok := raw["response_url"].(string); ok {
		responseURL = strings.TrimSpace(v)
	}

	msgID, _ := raw["msgid"].(string)

	return &Message{
		MsgID:        msgID,
		MsgType:      msgType,
		ChatType:     chatType,
		ChatID:       chatID,
		SenderUserID: senderUserID,
		BotID:        botID,
		ResponseURL:  responseURL,
		Raw:          raw,
	}, nil
}

// Scope is the pair of identities derived from a Message: conversation_scope
// groups shared history, execution_scope serialises concurrent turns.
type Scope struct {
	ConversationScope  string
	ExecutionScope     string
	SharedGroupHistory bool
}

// ScopeConfig is the slice of runtime config ComputeScopes consults.
type ScopeConfig struct {
	GroupSharedHistoryEnabled bool
	GroupSharedHistoryChatIDs []string
}

// ComputeScopes derives Scope deterministically from chat_type, chat_id, and
// sender, per the group-shared-history allowlist.
func ComputeScopes(cfg ScopeConfig, msg *Message) Scope {
	if strings.EqualFold(msg.ChatType, "group") {
		chatID := msg.ChatID
		if chatID == "" {
			chatID = "unknown"
		}
		if cfg.GroupSharedHistoryEnabled && containsString(cfg.GroupSharedHistoryChatIDs, chatID) {
			scope := "group:" + chatID
			return Scope{ConversationScope: scope, ExecutionScope: scope, SharedGroupHistory: true}
		}
		scope := "group:" + chatID + ":user:" + msg.SenderUserID
		return Scope{ConversationScope: scope, ExecutionScope: scope, SharedGroupHistory: false}
	}

	scope := "user:" + msg.SenderUserID
	return Scope{ConversationScope: scope, ExecutionScope: scope, SharedGroupHistory: false}
}

// NormalizeScopeComponent replaces every character (rune) outside
// [A-Za-z0-9:_-] with one underscore, for building filesystem-safe or log-safe scope identifiers.
func NormalizeScopeComponent(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
