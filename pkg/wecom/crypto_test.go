package wecom

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"testing"
)

func TestVerifySignatureBoundary(t *testing.T) {
	token := "token123"
	timestamp := "1700000000"
	nonce := "nonce123"
	encrypt := "enc_payload"

	parts := []string{token, timestamp, nonce, encrypt}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	sigHex := hex.EncodeToString(sum[:])

	c := &Crypto{token: token}

	if !c.VerifySignature(sigHex, timestamp, nonce, encrypt) {
		t.Fatalf("expected signature to verify")
	}

	mutated := "f" + sigHex[1:]
	if mutated == sigHex {
		mutated = "0" + sigHex[1:]
	}
	if c.VerifySignature(mutated, timestamp, nonce, encrypt) {
		t.Fatalf("expected mutated signature to fail verification")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	c := &Crypto{token: "token123"}
	copy(c.key[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte("hello from the agent gateway")
	receiveID := "corp123"

	reply, err := c.EncryptEnvelope(plaintext, "nonceA", "1700000001", receiveID)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := c.DecryptEnvelope(reply.Encrypt, receiveID)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}

	if !c.VerifySignature(reply.MsgSignature, reply.Timestamp, reply.Nonce, reply.Encrypt) {
		t.Fatalf("reply signature does not verify under token")
	}
}

func TestDecryptEnvelopeRejectsReceiveIDMismatch(t *testing.T) {
	c := &Crypto{token: "token123"}
	copy(c.key[:], []byte("0123456789abcdef0123456789abcdef"))

	reply, err := c.EncryptEnvelope([]byte("payload"), "n", "1700000002", "correct-id")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := c.DecryptEnvelope(reply.Encrypt, "wrong-id"); err == nil {
		t.Fatalf("expected receive_id mismatch error")
	}
}

func TestStripWeComPaddingRejectsOutOfRangeByte(t *testing.T) {
	data := []byte{1, 2, 3, 0}
	if _, err := stripWeComPadding(data); err == nil {
		t.Fatalf("expected error for padding byte 0")
	}
	data2 := []byte{1, 2, 3, 33}
	if _, err := stripWeComPadding(data2); err == nil {
		t.Fatalf("expected error for padding byte 33")
	}
}

func TestPaddingRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 33, 64, 65} {
		data := make([]byte, n)
		padded := addWeComPadding(data)
		if len(padded)%32 != 0 {
			t.Fatalf("padded length %d not a multiple of 32 for input len %d", len(padded), n)
		}
		stripped, err := stripWeComPadding(padded)
		if err != nil {
			t.Fatalf("strip: %v", err)
		}
		if len(stripped) != n {
			t.Fatalf("got length %d want %d", len(stripped), n)
		}
	}
}
