package wecom

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
	"github.com/zeroclaw-labs/zeroclaw/pkg/netutil"
)

// AttachmentKind distinguishes image attachments (stored as .png, marked
// [IMAGE:...]) from generic files (stored as .bin, marked [Document: ...]).
type AttachmentKind int

const (
	AttachmentImage AttachmentKind = iota
	AttachmentFile
)

func (k AttachmentKind) String() string {
	if k == AttachmentImage {
		return "Image"
	}
	return "File"
}

func (k AttachmentKind) ext() string {
	if k == AttachmentImage {
		return "png"
	}
	return "bin"
}

func (k AttachmentKind) marker(absPath string) string {
	if k == AttachmentImage {
		return "[IMAGE:" + absPath + "]"
	}
	return "[Document: " + absPath + "]"
}

// Downloader fetches, decrypts, size-caps, and persists WeCom attachments
// under the workspace's inbox directory, returning the textual marker the
// agent model sees in place of the raw binary.
type Downloader struct {
	Crypto       *Crypto
	Client       *http.Client
	WorkspaceDir string
	MaxBytes     int64
}

// NewDownloader builds a Downloader with a sane default HTTP client.
func NewDownloader(crypto *Crypto, workspaceDir string, maxBytes int64) *Downloader {
	return &Downloader{
		Crypto:       crypto,
		Client:       &http.Client{Timeout: netutil.DefaultTimeout},
		WorkspaceDir: workspaceDir,
		MaxBytes:     maxBytes,
	}
}

// inboxDir returns <workspace>/.wecom/inbox, creating it on first use.
func (d *Downloader) inboxDir() (string, error) {
	dir := filepath.Join(d.WorkspaceDir, ".wecom", "inbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("wecom: creating inbox dir: %w", err)
	}
	return dir, nil
}

// DownloadAndStore fetches url, decrypts the body with raw CBC (see
// crypto.go), and writes it to a sanitised, collision-resistant path under
// the inbox directory. A too-large body (by declared or actual size) short-
// circuits to a textual marker instead of erroring — the caller still gets
// something to show the model.
func (d *Downloader) DownloadAndStore(url string, kind AttachmentKind, msg *Message) (string, error) {
	if d.MaxBytes <= 0 {
		return "", fmt.Errorf("wecom: attachment max size is not configured")
	}

	body, err := netutil.GetCapped(d.Client, url, d.MaxBytes)
	if err != nil {
		if tooLarge, ok := err.(*netutil.ErrTooLarge); ok {
			size := tooLarge.DeclaredSize
			if size < 0 {
				size = d.MaxBytes + 1
			}
			return fmt.Sprintf("[AttachmentTooLarge kind=%s size=%dB limit=%dB]", kind, size, d.MaxBytes), nil
		}
		return "", fmt.Errorf("wecom: downloading attachment: %w", err)
	}

	decrypted, err := d.Crypto.DecryptAttachment(body)
	if err != nil {
		return "", fmt.Errorf("wecom: decrypting attachment: %w", err)
	}

	chatID := msg.ChatID
	if chatID == "" {
		chatID = "single"
	}
	safeScope := NormalizeScopeComponent(chatID + "_" + msg.SenderUserID)
	fileName := fmt.Sprintf("%s_%d_%s_%d.%s", safeScope, time.Now().Unix(), msg.MsgID, rand.Int63(), kind.ext())

	dir, err := d.inboxDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, decrypted, 0o644); err != nil {
		return "", fmt.Errorf("wecom: persisting attachment: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return kind.marker(abs), nil
}

// downloadOrFallback wraps DownloadAndStore with the teacher's observed
// fallback behaviour: a download/decrypt failure degrades to a message the
// model can read gracefully rather than aborting the whole turn.
func (d *Downloader) downloadOrFallback(url string, kind AttachmentKind, msg *Message, failureNote string) string {
	marker, err := d.DownloadAndStore(url, kind, msg)
	if err != nil {
		logger.WarnCF("wecom", "attachment processing failed", map[string]interface{}{
			"kind": kind.String(), "msg_id": msg.MsgID, "error": err.Error(),
		})
		return failureNote
	}
	return marker
}

// Sweep deletes files under the inbox directory older than retention. It is
// called opportunistically from the idempotency/cleanup sweeper (see
// sweep.go), not on a fixed ticker of its own.
func (d *Downloader) Sweep(retention time.Duration) {
	dir := filepath.Join(d.WorkspaceDir, ".wecom", "inbox")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
