package wecom

import "strings"

// NormalizedKind tags the three outcomes of normalizing an inbound message.
type NormalizedKind int

const (
	// NormalizedReady carries text the turn orchestrator can feed the model.
	NormalizedReady NormalizedKind = iota
	// NormalizedVoiceMissingTranscript means a voice message arrived with
	// no ASR transcript yet attached by the platform.
	NormalizedVoiceMissingTranscript
	// NormalizedUnsupported means the msgtype (or its required payload) has
	// no handling and the message should be silently dropped.
	NormalizedUnsupported
)

// NormalizedMessage is the three-way outcome of NormalizeMessage.
type NormalizedMessage struct {
	Kind NormalizedKind
	Text string
}

func ready(text string) NormalizedMessage {
	return NormalizedMessage{Kind: NormalizedReady, Text: text}
}

// NormalizeMessage dispatches on msg.MsgType and extracts the text the turn
// orchestrator composes into model input, downloading and decrypting any
// image/file attachment it references along the way.
func NormalizeMessage(msg *Message, downloader *Downloader) NormalizedMessage {
	switch msg.MsgType {
	case "text":
		content := stringField(msg.Raw, "text", "content")
		if content == "" {
			return NormalizedMessage{Kind: NormalizedUnsupported}
		}
		return ready(content)

	case "voice":
		content := stringField(msg.Raw, "voice", "content")
		if content == "" {
			return NormalizedMessage{Kind: NormalizedVoiceMissingTranscript}
		}
		return ready("[Voice transcript]\n" + content)

	case "image":
		url := stringField(msg.Raw, "image", "url")
		if url == "" {
			return NormalizedMessage{Kind: NormalizedUnsupported}
		}
		return ready(downloader.downloadOrFallback(url, AttachmentImage, msg,
			"[Image attachment processing failed; please continue without this image.]"))

	case "file":
		url := stringField(msg.Raw, "file", "url")
		if url == "" {
			return NormalizedMessage{Kind: NormalizedUnsupported}
		}
		return ready(downloader.downloadOrFallback(url, AttachmentFile, msg,
			"[File attachment processing failed; please continue without this file.]"))

	case "mixed":
		return normalizeMixed(msg, downloader)

	default:
		return NormalizedMessage{Kind: NormalizedUnsupported}
	}
}

func normalizeMixed(msg *Message, downloader *Downloader) NormalizedMessage {
	mixed, _ := msg.Raw["mixed"].(map[string]interface{})
	items, _ := mixed["msg_item"].([]interface{})

	var parts []string
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		itemType, _ := item["msgtype"].(string)
		switch itemType {
		case "text":
			text := strings.TrimSpace(stringField(item, "text", "content"))
			if text != "" {
				parts = append(parts, text)
			}
		case "image":
			url := stringField(item, "image", "url")
			if url == "" {
				continue
			}
			parts = append(parts, downloader.downloadOrFallback(url, AttachmentImage, msg,
				"[Image attachment processing failed in mixed message.]"))
		}
	}

	if len(parts) == 0 {
		return NormalizedMessage{Kind: NormalizedUnsupported}
	}
	return ready(strings.Join(parts, "\n\n"))
}

// stringField reads raw[outer][inner] as a trimmed string, tolerating any
// absent or mistyped step in the chain.
func stringField(raw map[string]interface{}, outer, inner string) string {
	sub, ok := raw[outer].(map[string]interface{})
	if !ok {
		return ""
	}
	val, _ := sub[inner].(string)
	return strings.TrimSpace(val)
}
