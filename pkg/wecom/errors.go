package wecom

import "errors"

// Sentinel error kinds for the WeCom gateway. ErrCryptoInvalid lives in
// crypto.go; the rest cover the remaining taxonomy. No code in this package
// returns them: HandleCallback sets its webhook status codes directly.
var (
	ErrProtocolInvalid        = errors.New("wecom: protocol invalid")
	ErrUnsupported            = errors.New("wecom: message type unsupported")
	ErrBusy                   = errors.New("wecom: execution scope busy")
	ErrAttachmentTooLarge     = errors.New("wecom: attachment too large")
	ErrAttachmentFetchFailed  = errors.New("wecom: attachment fetch failed")
	ErrAgentError             = errors.New("wecom: agent turn failed")
	ErrOutboundDispatchFailed = errors.New("wecom: outbound dispatch failed")
)
