// Package github receives GitHub webhook events (issue and PR review
// comments) and replies by posting a new comment through the REST API.
// Inbound delivery is webhook-driven, not polled: callers wire
// ParseWebhookPayload behind their own HTTP route.
package github

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
)

const (
	defaultAPIBase  = "https://api.github.com"
	apiVersion      = "2022-11-28"
	userAgent       = "zeroclaw-github-channel"
	postRetries     = 3
	maxRetryBackoff = 8 * time.Second
)

// Message is one inbound GitHub comment event normalized for the agent turn
// loop. ReplyTarget is "owner/repo#number", matching Send's expected format.
type Message struct {
	ID          string
	Sender      string
	ReplyTarget string
	Content     string
	Timestamp   int64
	CommentID   string
}

// Channel posts issue/PR comments via the GitHub REST API and parses
// inbound webhook deliveries for issue_comment and
// pull_request_review_comment events.
type Channel struct {
	client       *http.Client
	accessToken  string
	apiBaseURL   string
	allowedRepos []string
}

// New builds a Channel. apiBaseURL defaults to the public GitHub API when
// empty (GitHub Enterprise deployments pass their own host).
func New(accessToken, apiBaseURL string, allowedRepos []string) *Channel {
	base := strings.TrimSpace(apiBaseURL)
	if base == "" {
		base = defaultAPIBase
	}
	return &Channel{
		client:       &http.Client{Timeout: 15 * time.Second},
		accessToken:  accessToken,
		apiBaseURL:   strings.TrimSuffix(base, "/"),
		allowedRepos: allowedRepos,
	}
}

// repoIsAllowed matches repoFullName ("owner/repo") against the allowlist.
// An empty allowlist denies everything; "*" or "owner/*" entries match
// broadly, everything else is an exact case-insensitive match.
func (c *Channel) repoIsAllowed(repoFullName string) bool {
	if len(c.allowedRepos) == 0 {
		return false
	}
	for _, raw := range c.allowedRepos {
		allowed := strings.TrimSpace(raw)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if ownerPrefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if owner, _, found := strings.Cut(repoFullName, "/"); found && strings.EqualFold(owner, ownerPrefix) {
				return true
			}
			continue
		}
		if strings.EqualFold(repoFullName, allowed) {
			return true
		}
	}
	return false
}

// parseIssueRecipient splits "owner/repo#123" into its repo and issue number.
func parseIssueRecipient(recipient string) (string, int64, bool) {
	repo, numStr, ok := strings.Cut(strings.TrimSpace(recipient), "#")
	if !ok || !strings.Contains(repo, "/") {
		return "", 0, false
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil || n == 0 {
		return "", 0, false
	}
	return repo, n, true
}

func (c *Channel) issueCommentAPIURL(repoFullName string, issueNumber int64) (string, bool) {
	owner, repo, ok := strings.Cut(repoFullName, "/")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments",
		c.apiBaseURL, strings.TrimSpace(owner), strings.TrimSpace(repo), issueNumber), true
}

func isRateLimited(status int, headers http.Header) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status == http.StatusForbidden && headers.Get("x-ratelimit-remaining") == "0"
}

func retryDelayFromHeaders(headers http.Header) (time.Duration, bool) {
	if raw := strings.TrimSpace(headers.Get("retry-after")); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return clampSeconds(secs), true
		}
	}
	if headers.Get("x-ratelimit-remaining") != "0" {
		return 0, false
	}
	reset, err := strconv.ParseInt(strings.TrimSpace(headers.Get("x-ratelimit-reset")), 10, 64)
	if err != nil {
		return 0, false
	}
	wait := reset - time.Now().Unix()
	if wait < 1 {
		wait = 1
	}
	return clampSeconds(wait), true
}

func clampSeconds(secs int64) time.Duration {
	if secs < 1 {
		secs = 1
	}
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// PostIssueComment posts body as a new comment on repoFullName's issue or PR,
// making up to postRetries attempts in total and retrying only on GitHub
// rate-limit responses.
func (c *Channel) PostIssueComment(repoFullName string, issueNumber int64, body string) error {
	url, ok := c.issueCommentAPIURL(repoFullName, issueNumber)
	if !ok {
		return fmt.Errorf("github: invalid recipient repo format: %s", repoFullName)
	}
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("github: marshaling comment payload: %w", err)
	}

	backoff := time.Second
	for attempt := 1; attempt <= postRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("github: building comment request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("github: posting comment: %w", err)
		}
		status := resp.StatusCode
		headers := resp.Header.Clone()
		resp.Body.Close()

		if status >= 200 && status < 300 {
			return nil
		}
		if attempt < postRetries && isRateLimited(status, headers) {
			wait, ok := retryDelayFromHeaders(headers)
			if !ok {
				wait = backoff
			}
			logger.WarnCF("github", "comment post rate limited, retrying", map[string]interface{}{
				"status": status, "attempt": attempt, "wait_secs": wait.Seconds(),
			})
			time.Sleep(wait)
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			continue
		}
		return fmt.Errorf("github: comment post failed: status=%d", status)
	}
	return fmt.Errorf("github: comment post retries exhausted")
}

func (c *Channel) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
}

// Send posts content as a comment on the "owner/repo#number"
// recipient, enforcing the repo allowlist.
func (c *Channel) Send(recipient, content string) error {
	repo, issueNumber, ok := parseIssueRecipient(recipient)
	if !ok {
		return fmt.Errorf("github: recipient must be 'owner/repo#number', got %q", recipient)
	}
	if !c.repoIsAllowed(repo) {
		return fmt.Errorf("github: repository %q is not in allowed_repos", repo)
	}
	return c.PostIssueComment(repo, issueNumber, content)
}

// HealthCheck reports whether the configured access token can reach the
// rate_limit endpoint.
func (c *Channel) HealthCheck() bool {
	req, err := http.NewRequest(http.MethodGet, c.apiBaseURL+"/rate_limit", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func isBotActor(login, actorType string) bool {
	if strings.EqualFold(actorType, "bot") {
		return true
	}
	return strings.HasSuffix(strings.TrimRight(login, " "), "[bot]")
}

func stringField(m map[string]interface{}, keys ...string) string {
	cur := interface{}(m)
	for i, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		v, ok := obj[k]
		if !ok {
			return ""
		}
		if i == len(keys)-1 {
			s, _ := v.(string)
			return s
		}
		cur = v
	}
	return ""
}

func numberField(m map[string]interface{}, keys ...string) (int64, bool) {
	cur := interface{}(m)
	for i, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return 0, false
		}
		v, ok := obj[k]
		if !ok {
			return 0, false
		}
		if i == len(keys)-1 {
			f, ok := v.(float64)
			return int64(f), ok
		}
		cur = v
	}
	return 0, false
}

func parseRFC3339Timestamp(raw string) int64 {
	if raw == "" {
		return time.Now().Unix()
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Now().Unix()
	}
	return t.Unix()
}

// ParseWebhookPayload converts one already-signature-verified GitHub webhook
// delivery into zero or more normalized messages. Only issue_comment and
// pull_request_review_comment "created" events produce a message; every
// other event name and action is silently ignored.
func (c *Channel) ParseWebhookPayload(eventName string, payload map[string]interface{}) []Message {
	switch eventName {
	case "issue_comment":
		return c.parseIssueCommentEvent(payload, eventName)
	case "pull_request_review_comment":
		return c.parsePRReviewCommentEvent(payload)
	default:
		return nil
	}
}

func (c *Channel) parseIssueCommentEvent(payload map[string]interface{}, eventName string) []Message {
	if stringField(payload, "action") != "created" {
		return nil
	}
	repo := strings.TrimSpace(stringField(payload, "repository", "full_name"))
	if repo == "" || !c.repoIsAllowed(repo) {
		if repo != "" {
			logger.WarnCF("github", "ignoring webhook for unauthorized repository", map[string]interface{}{"repo": repo})
		}
		return nil
	}

	commentBody := strings.TrimSpace(stringField(payload, "comment", "body"))
	if commentBody == "" {
		return nil
	}

	actorLogin := stringField(payload, "comment", "user", "login")
	actorType := stringField(payload, "comment", "user", "type")
	if actorLogin == "" {
		actorLogin = stringField(payload, "sender", "login")
		actorType = stringField(payload, "sender", "type")
	}
	if isBotActor(actorLogin, actorType) {
		return nil
	}

	issueNumber, ok := numberField(payload, "issue", "number")
	if !ok {
		return nil
	}
	issueTitle := stringField(payload, "issue", "title")
	commentURL := stringField(payload, "comment", "html_url")
	timestamp := parseRFC3339Timestamp(stringField(payload, "comment", "created_at"))
	commentID, _ := numberField(payload, "comment", "id")

	sender := actorLogin
	if sender == "" {
		sender = "unknown"
	}
	content := fmt.Sprintf("[GitHub %s] repo=%s issue=#%d title=%q\nauthor=%s\nurl=%s\n\n%s",
		eventName, repo, issueNumber, issueTitle, sender, commentURL, commentBody)

	return []Message{{
		ID:          uuid.NewString(),
		Sender:      sender,
		ReplyTarget: fmt.Sprintf("%s#%d", repo, issueNumber),
		Content:     content,
		Timestamp:   timestamp,
		CommentID:   strconv.FormatInt(commentID, 10),
	}}
}

func (c *Channel) parsePRReviewCommentEvent(payload map[string]interface{}) []Message {
	if stringField(payload, "action") != "created" {
		return nil
	}
	repo := strings.TrimSpace(stringField(payload, "repository", "full_name"))
	if repo == "" || !c.repoIsAllowed(repo) {
		if repo != "" {
			logger.WarnCF("github", "ignoring webhook for unauthorized repository", map[string]interface{}{"repo": repo})
		}
		return nil
	}

	commentBody := strings.TrimSpace(stringField(payload, "comment", "body"))
	if commentBody == "" {
		return nil
	}

	actorLogin := stringField(payload, "comment", "user", "login")
	actorType := stringField(payload, "comment", "user", "type")
	if actorLogin == "" {
		actorLogin = stringField(payload, "sender", "login")
		actorType = stringField(payload, "sender", "type")
	}
	if isBotActor(actorLogin, actorType) {
		return nil
	}

	prNumber, ok := numberField(payload, "pull_request", "number")
	if !ok {
		return nil
	}
	prTitle := stringField(payload, "pull_request", "title")
	commentURL := stringField(payload, "comment", "html_url")
	filePath := stringField(payload, "comment", "path")
	timestamp := parseRFC3339Timestamp(stringField(payload, "comment", "created_at"))
	commentID, _ := numberField(payload, "comment", "id")

	sender := actorLogin
	if sender == "" {
		sender = "unknown"
	}
	content := fmt.Sprintf("[GitHub pull_request_review_comment] repo=%s pr=#%d title=%q\nauthor=%s\nfile=%s\nurl=%s\n\n%s",
		repo, prNumber, prTitle, sender, filePath, commentURL, commentBody)

	return []Message{{
		ID:          uuid.NewString(),
		Sender:      sender,
		ReplyTarget: fmt.Sprintf("%s#%d", repo, prNumber),
		Content:     content,
		Timestamp:   timestamp,
		CommentID:   strconv.FormatInt(commentID, 10),
	}}
}

// VerifySignature checks a GitHub webhook's X-Hub-Signature-256 header
// (format "sha256=<hex hmac>") against body using the configured secret.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	hexSig, ok := strings.CutPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	if !ok {
		return false
	}
	hexSig = strings.TrimSpace(hexSig)
	if hexSig == "" {
		return false
	}
	expected, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
