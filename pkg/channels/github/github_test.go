package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func makeChannel() *Channel {
	return New("ghp_test", "", []string{"zeroclaw-labs/zeroclaw"})
}

func TestVerifySignatureValid(t *testing.T) {
	secret := "test_secret"
	body := []byte(`{"action":"created"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !VerifySignature(secret, body, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifySignatureRejectsInvalid(t *testing.T) {
	if VerifySignature("secret", []byte("{}"), "sha256=deadbeef") {
		t.Fatal("expected invalid signature to be rejected")
	}
	if VerifySignature("secret", []byte("{}"), "") {
		t.Fatal("expected empty signature to be rejected")
	}
}

func TestParseIssueCommentEventCreated(t *testing.T) {
	ch := makeChannel()
	payload := map[string]interface{}{
		"action": "created",
		"repository": map[string]interface{}{
			"full_name": "zeroclaw-labs/zeroclaw",
		},
		"issue": map[string]interface{}{
			"number": float64(2079),
			"title":  "GitHub as a native channel",
		},
		"comment": map[string]interface{}{
			"id":         float64(12345),
			"body":       "please add this",
			"created_at": "2026-02-27T14:00:00Z",
			"html_url":   "https://github.com/zeroclaw-labs/zeroclaw/issues/2079#issuecomment-12345",
			"user": map[string]interface{}{
				"login": "alice",
				"type":  "User",
			},
		},
	}
	msgs := ch.ParseWebhookPayload("issue_comment", payload)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ReplyTarget != "zeroclaw-labs/zeroclaw#2079" {
		t.Errorf("unexpected reply target: %s", msgs[0].ReplyTarget)
	}
	if msgs[0].Sender != "alice" {
		t.Errorf("unexpected sender: %s", msgs[0].Sender)
	}
	if msgs[0].CommentID != "12345" {
		t.Errorf("unexpected comment id: %s", msgs[0].CommentID)
	}
}

func TestParseIssueCommentEventSkipsBotActor(t *testing.T) {
	ch := makeChannel()
	payload := map[string]interface{}{
		"action": "created",
		"repository": map[string]interface{}{
			"full_name": "zeroclaw-labs/zeroclaw",
		},
		"issue": map[string]interface{}{"number": float64(1), "title": "x"},
		"comment": map[string]interface{}{
			"id":   float64(3),
			"body": "bot note",
			"user": map[string]interface{}{"login": "zeroclaw-bot[bot]", "type": "Bot"},
		},
	}
	if msgs := ch.ParseWebhookPayload("issue_comment", payload); len(msgs) != 0 {
		t.Fatalf("expected bot actor to be skipped, got %d messages", len(msgs))
	}
}

func TestParseIssueCommentEventBlocksUnallowedRepo(t *testing.T) {
	ch := makeChannel()
	payload := map[string]interface{}{
		"action":     "created",
		"repository": map[string]interface{}{"full_name": "other/repo"},
		"issue":      map[string]interface{}{"number": float64(1), "title": "x"},
		"comment": map[string]interface{}{
			"body": "hello",
			"user": map[string]interface{}{"login": "alice", "type": "User"},
		},
	}
	if msgs := ch.ParseWebhookPayload("issue_comment", payload); len(msgs) != 0 {
		t.Fatalf("expected unallowed repo to be blocked, got %d messages", len(msgs))
	}
}

func TestParsePRReviewCommentEventCreated(t *testing.T) {
	ch := makeChannel()
	payload := map[string]interface{}{
		"action":     "created",
		"repository": map[string]interface{}{"full_name": "zeroclaw-labs/zeroclaw"},
		"pull_request": map[string]interface{}{
			"number": float64(2118),
			"title":  "Add github channel",
		},
		"comment": map[string]interface{}{
			"id":         float64(9001),
			"body":       "nit: rename this variable",
			"path":       "src/channels/github.rs",
			"created_at": "2026-02-27T14:00:00Z",
			"html_url":   "https://github.com/zeroclaw-labs/zeroclaw/pull/2118#discussion_r9001",
			"user":       map[string]interface{}{"login": "bob", "type": "User"},
		},
	}
	msgs := ch.ParseWebhookPayload("pull_request_review_comment", payload)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ReplyTarget != "zeroclaw-labs/zeroclaw#2118" {
		t.Errorf("unexpected reply target: %s", msgs[0].ReplyTarget)
	}
	if msgs[0].Sender != "bob" {
		t.Errorf("unexpected sender: %s", msgs[0].Sender)
	}
}

func TestParseIssueRecipientFormat(t *testing.T) {
	repo, n, ok := parseIssueRecipient("zeroclaw-labs/zeroclaw#12")
	if !ok || repo != "zeroclaw-labs/zeroclaw" || n != 12 {
		t.Fatalf("unexpected parse result: repo=%s n=%d ok=%v", repo, n, ok)
	}
	if _, _, ok := parseIssueRecipient("bad"); ok {
		t.Fatal("expected 'bad' to fail parsing")
	}
	if _, _, ok := parseIssueRecipient("owner/repo#0"); ok {
		t.Fatal("expected issue number 0 to fail parsing")
	}
}

func TestAllowlistSupportsWildcards(t *testing.T) {
	ch := New("t", "", []string{"zeroclaw-labs/*"})
	if !ch.repoIsAllowed("zeroclaw-labs/zeroclaw") {
		t.Error("expected owner wildcard to match")
	}
	if ch.repoIsAllowed("other/repo") {
		t.Error("expected owner wildcard not to match other owner")
	}

	all := New("t", "", []string{"*"})
	if !all.repoIsAllowed("anything/repo") {
		t.Error("expected '*' to match everything")
	}
}
