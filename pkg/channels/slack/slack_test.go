package slack

import "testing"

func TestNewScopesToChannel(t *testing.T) {
	ch := New("xoxb-fake", "C12345", nil)
	if ch.channelID != "C12345" {
		t.Errorf("expected channelID C12345, got %q", ch.channelID)
	}
}

func TestNewWildcardChannelMeansUnscoped(t *testing.T) {
	ch := New("xoxb-fake", "*", nil)
	if ch.channelID != "" {
		t.Errorf("expected wildcard channel to mean unscoped, got %q", ch.channelID)
	}
}

func TestGroupReplyPolicyDefaultsToAllMessages(t *testing.T) {
	ch := New("xoxb-fake", "", []string{"*"})
	if ch.mentionOnly {
		t.Error("expected mentionOnly to default false")
	}
	if len(ch.groupReplyAllowedSenderIDs) != 0 {
		t.Error("expected no group reply allowlist by default")
	}
}

func TestGroupReplyPolicyAppliesSenderOverrides(t *testing.T) {
	ch := New("xoxb-fake", "", []string{"*"}).
		WithGroupReplyPolicy(true, []string{" U111 ", "U111", "U222"})
	if !ch.mentionOnly {
		t.Error("expected mentionOnly true")
	}
	if len(ch.groupReplyAllowedSenderIDs) != 2 {
		t.Fatalf("expected 2 deduped sender ids, got %v", ch.groupReplyAllowedSenderIDs)
	}
}

func TestIsGroupChannelID(t *testing.T) {
	cases := map[string]bool{"C12345": true, "G12345": true, "D12345": false, "": false}
	for id, want := range cases {
		if got := isGroupChannelID(id); got != want {
			t.Errorf("isGroupChannelID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestContainsAndStripBotMention(t *testing.T) {
	text := "hey <@U999> can you help"
	if !containsBotMention(text, "U999") {
		t.Error("expected mention to be detected")
	}
	if containsBotMention(text, "") {
		t.Error("expected empty bot id to never match")
	}
	stripped := stripBotMentions(text, "U999")
	if stripped != "hey   can you help" {
		t.Errorf("unexpected stripped text: %q", stripped)
	}
}

func TestNormalizeIncomingContent(t *testing.T) {
	if _, ok := normalizeIncomingContent("   ", false, ""); ok {
		t.Error("expected blank text to be rejected")
	}
	if _, ok := normalizeIncomingContent("hello", true, "U1"); ok {
		t.Error("expected mention-required text without mention to be rejected")
	}
	content, ok := normalizeIncomingContent("<@U1> hello", true, "U1")
	if !ok || content != "hello" {
		t.Errorf("unexpected normalized content: %q ok=%v", content, ok)
	}
}
