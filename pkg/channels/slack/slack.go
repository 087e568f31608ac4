// Package slack polls a Slack workspace for inbound chat messages and posts
// replies back through the Web API, adapting Slack's conversation model into
// this package's Message type.
package slack

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
)

const (
	historyMaxRetries       = 3
	historyDefaultRetrySecs = 1
	historyMaxBackoffSecs   = 120
	pollInterval            = 3 * time.Second
	discoveryInterval       = time.Minute
	historyPageLimit        = 10
)

// Message is one inbound Slack message normalized for the agent turn loop.
type Message struct {
	ID        string
	Sender    string
	Channel   string
	Content   string
	ThreadTS  string
	Timestamp int64
}

// Channel polls conversations.history across one or more Slack channels and
// posts replies via chat.postMessage.
type Channel struct {
	api *slack.Client

	channelID                string
	allowedUsers              []string
	mentionOnly               bool
	groupReplyAllowedSenderIDs []string
}

// New builds a Channel scoped to channelID, or every accessible channel when
// channelID is empty or "*". allowedUsers of ["*"] allows every sender.
func New(botToken, channelID string, allowedUsers []string) *Channel {
	return &Channel{
		api:          slack.New(botToken),
		channelID:    normalizedChannelID(channelID),
		allowedUsers: allowedUsers,
	}
}

// WithGroupReplyPolicy configures whether multi-party channels require an
// explicit @-mention to trigger a reply, and which senders bypass that gate.
func (c *Channel) WithGroupReplyPolicy(mentionOnly bool, allowedSenderIDs []string) *Channel {
	c.mentionOnly = mentionOnly
	c.groupReplyAllowedSenderIDs = normalizeSenderIDs(allowedSenderIDs)
	return c
}

func normalizedChannelID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == "*" {
		return ""
	}
	return id
}

func normalizeSenderIDs(ids []string) []string {
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			normalized = append(normalized, id)
		}
	}
	sort.Strings(normalized)
	return dedupSorted(normalized)
}

func dedupSorted(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, v := range sorted {
		if i == 0 || v != prev {
			out = append(out, v)
		}
		prev = v
	}
	return out
}

func (c *Channel) isUserAllowed(userID string) bool {
	for _, u := range c.allowedUsers {
		if u == "*" || u == userID {
			return true
		}
	}
	return false
}

func (c *Channel) isGroupSenderTriggerEnabled(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	for _, entry := range c.groupReplyAllowedSenderIDs {
		if entry == "*" || entry == userID {
			return true
		}
	}
	return false
}

// isGroupChannelID reports whether id names a public ("C") or private/MPIM
// ("G") channel, as opposed to a 1:1 DM ("D").
func isGroupChannelID(id string) bool {
	return strings.HasPrefix(id, "C") || strings.HasPrefix(id, "G")
}

func containsBotMention(text, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	return strings.Contains(text, "<@"+botUserID+">")
}

func stripBotMentions(text, botUserID string) string {
	if botUserID == "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botUserID+">", " "))
}

func normalizeIncomingContent(text string, requireMention bool, botUserID string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	if requireMention && !containsBotMention(text, botUserID) {
		return "", false
	}
	normalized := strings.TrimSpace(text)
	if requireMention {
		normalized = stripBotMentions(text, botUserID)
	}
	if normalized == "" {
		return "", false
	}
	return normalized, true
}

// botUserID resolves the bot's own user id so its own messages are ignored.
func (c *Channel) botUserID(ctx context.Context) string {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return ""
	}
	return resp.UserID
}

func (c *Channel) listAccessibleChannels(ctx context.Context) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		params := &slack.GetConversationsParameters{
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel", "mpim", "im"},
			Cursor:          cursor,
		}
		channels, next, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack: listing conversations: %w", err)
		}
		for _, ch := range channels {
			if ch.IsArchived || !ch.IsMember {
				continue
			}
			ids = append(ids, ch.ID)
		}
		cursor = strings.TrimSpace(next)
		if cursor == "" {
			break
		}
	}
	sort.Strings(ids)
	return dedupSorted(ids), nil
}

// fetchHistoryWithRetry fetches one page of conversations.history, retrying
// on rate limits with exponential backoff capped at historyMaxBackoffSecs.
func (c *Channel) fetchHistoryWithRetry(ctx context.Context, channelID, oldest string) (*slack.GetConversationHistoryResponse, bool) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     historyPageLimit,
		Oldest:    oldest,
	}

	for attempt := 0; attempt <= historyMaxRetries; attempt++ {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err == nil {
			return resp, true
		}

		retryAfter, ok := rateLimitedRetryAfter(err)
		if !ok {
			logger.WarnCF("slack", "history fetch failed", map[string]interface{}{
				"channel": channelID, "error": err.Error(),
			})
			return nil, false
		}
		if attempt >= historyMaxRetries {
			logger.ErrorCF("slack", "history retries exhausted", map[string]interface{}{
				"channel": channelID, "attempts": historyMaxRetries,
			})
			return nil, false
		}

		backoff := time.Duration(retryAfter) * time.Second * time.Duration(1<<attempt)
		if backoff > historyMaxBackoffSecs*time.Second {
			backoff = historyMaxBackoffSecs * time.Second
		}
		logger.WarnCF("slack", "history rate limited, retrying", map[string]interface{}{
			"channel": channelID, "attempt": attempt + 1, "backoff_secs": backoff.Seconds(),
		})
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}
	}
	return nil, false
}

// rateLimitedRetryAfter extracts the Retry-After hint from a slack-go rate
// limit error, defaulting to historyDefaultRetrySecs when absent.
func rateLimitedRetryAfter(err error) (int, bool) {
	rlErr, ok := err.(*slack.RateLimitedError)
	if !ok {
		return 0, false
	}
	secs := int(rlErr.RetryAfter / time.Second)
	if secs <= 0 {
		secs = historyDefaultRetrySecs
	}
	return secs, true
}

// Listen polls every target channel on a fixed cadence and emits normalized
// messages to out until ctx is cancelled.
func (c *Channel) Listen(ctx context.Context, out chan<- Message) error {
	botUserID := c.botUserID(ctx)
	var discovered []string
	var lastDiscovery time.Time
	lastTSByChannel := make(map[string]string)

	if c.channelID != "" {
		logger.InfoCF("slack", "listening on configured channel", map[string]interface{}{"channel": c.channelID})
	} else {
		logger.InfoCF("slack", "no channel configured, listening across all accessible channels", nil)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var targets []string
		if c.channelID != "" {
			targets = []string{c.channelID}
		} else {
			if len(discovered) == 0 || time.Since(lastDiscovery) >= discoveryInterval {
				channels, err := c.listAccessibleChannels(ctx)
				if err != nil {
					logger.WarnCF("slack", "channel discovery failed", map[string]interface{}{"error": err.Error()})
				} else {
					discovered = channels
				}
				lastDiscovery = time.Now()
			}
			targets = discovered
		}
		if len(targets) == 0 {
			continue
		}

		for _, channelID := range targets {
			c.pollChannel(ctx, channelID, botUserID, lastTSByChannel, out)
		}
	}
}

func (c *Channel) pollChannel(ctx context.Context, channelID, botUserID string, lastTSByChannel map[string]string, out chan<- Message) {
	_, hadCursor := lastTSByChannel[channelID]
	if !hadCursor {
		lastTSByChannel[channelID] = slackNowTS()
		logger.DebugCF("slack", "initialized poll cursor", map[string]interface{}{"channel": channelID, "cursor": lastTSByChannel[channelID]})
	}

	resp, ok := c.fetchHistoryWithRetry(ctx, channelID, lastTSByChannel[channelID])
	if !ok {
		return
	}

	isGroup := isGroupChannelID(channelID)

	// messages arrive newest-first; replay oldest-first
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		msg := resp.Messages[i]
		if msg.User == botUserID {
			continue
		}
		if !c.isUserAllowed(msg.User) {
			logger.WarnCF("slack", "ignoring message from unauthorized user", map[string]interface{}{"user": msg.User})
			continue
		}
		if msg.Text == "" || msg.Timestamp <= lastTSByChannel[channelID] {
			continue
		}

		allowWithoutMention := isGroup && c.isGroupSenderTriggerEnabled(msg.User)
		requireMention := c.mentionOnly && isGroup && !allowWithoutMention
		content, ok := normalizeIncomingContent(msg.Text, requireMention, botUserID)
		if !ok {
			continue
		}

		lastTSByChannel[channelID] = msg.Timestamp

		select {
		case out <- Message{
			ID:        "slack_" + channelID + "_" + msg.Timestamp,
			Sender:    msg.User,
			Channel:   channelID,
			Content:   content,
			ThreadTS:  inboundThreadTS(msg.ThreadTimestamp, msg.Timestamp),
			Timestamp: time.Now().Unix(),
		}:
		case <-ctx.Done():
			return
		}
	}
}

func inboundThreadTS(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

func slackNowTS() string {
	now := time.Now()
	return strconv.FormatInt(now.Unix(), 10) + "." + fmt.Sprintf("%06d", now.Nanosecond()/1000)
}

// Send posts content to channelID, threading under threadTS when non-empty.
func (c *Channel) Send(ctx context.Context, channelID, threadTS, content string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(content, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return fmt.Errorf("slack: posting message: %w", err)
	}
	return nil
}

// HealthCheck reports whether the configured bot token is currently valid.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	_, err := c.api.AuthTestContext(ctx)
	return err == nil
}
