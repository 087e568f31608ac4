package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ErrCryptoInvalid is the sentinel wrapped by every decode/verify failure in
// this file: bad signature, bad padding, truncated length prefix, or a
// receive-id mismatch. Callers map it to a 400/401 webhook response and never
// retry.
var ErrCryptoInvalid = fmt.Errorf("wecom: crypto invalid")

func cryptoErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrCryptoInvalid}, args...)...)
}

// Crypto implements the WeCom passive-callback crypto contract: signature
// verification over a sorted four-tuple, and AES-256-CBC encrypt/decrypt of
// the envelope (and, separately, of attachment bodies carrying no length
// header).
type Crypto struct {
	token string
	key   [32]byte
}

// NewCrypto derives the 32-byte AES key from the base64 EncodingAESKey the
// WeCom console issues (43 chars, missing the trailing "=" padding).
func NewCrypto(token, encodingAESKey string) (*Crypto, error) {
	raw, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, cryptoErr("decoding encoding_aes_key: %v", err)
	}
	if len(raw) != 32 {
		return nil, cryptoErr("encoding_aes_key must decode to 32 bytes, got %d", len(raw))
	}
	c := &Crypto{token: token}
	copy(c.key[:], raw)
	return c, nil
}

// VerifySignature sorts (token, timestamp, nonce, ciphertext) lexicographically,
// concatenates without separator, SHA-1s the result, and compares the hex
// digest case-insensitively against sigHex.
func (c *Crypto) VerifySignature(sigHex, timestamp, nonce, ciphertextB64 string) bool {
	computed := c.signature(timestamp, nonce, ciphertextB64)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(computed)), []byte(strings.ToLower(sigHex))) == 1
}

func (c *Crypto) signature(timestamp, nonce, ciphertextB64 string) string {
	parts := []string{c.token, timestamp, nonce, ciphertextB64}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// DecryptEnvelope base64-decodes ciphertextB64, AES-256-CBC decrypts with an
// IV equal to the first 16 bytes of the key, strips WeCom padding, and
// validates the [16 random][4B BE length][msg][receive_id] layout against
// expectedReceiveID.
func (c *Crypto) DecryptEnvelope(ciphertextB64, expectedReceiveID string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, cryptoErr("decoding ciphertext base64: %v", err)
	}
	plain, err := c.decryptCBC(raw)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, cryptoErr("envelope too short: %d bytes", len(plain))
	}
	msgLen := binary.BigEndian.Uint32(plain[16:20])
	remaining := len(plain) - 20
	if int(msgLen) > remaining {
		return nil, cryptoErr("declared length %d exceeds remaining %d bytes", msgLen, remaining)
	}
	msg := plain[20 : 20+int(msgLen)]
	receiveID := plain[20+int(msgLen):]
	if string(receiveID) != expectedReceiveID {
		return nil, cryptoErr("receive_id mismatch")
	}
	return msg, nil
}

// EnvelopeReply is the encrypted passive-reply wire shape.
type EnvelopeReply struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// EncryptEnvelope is the inverse of DecryptEnvelope: it prefixes 16 random
// bytes, the big-endian length, plaintext, and receiveID, pads, encrypts,
// and computes the reply signature.
func (c *Crypto) EncryptEnvelope(plaintext []byte, nonce, timestamp, receiveID string) (*EnvelopeReply, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("wecom: generating random prefix: %w", err)
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(plaintext)))

	buf := make([]byte, 0, 16+4+len(plaintext)+len(receiveID))
	buf = append(buf, random...)
	buf = append(buf, lenBuf...)
	buf = append(buf, plaintext...)
	buf = append(buf, []byte(receiveID)...)

	cipherBytes, err := c.encryptCBC(buf)
	if err != nil {
		return nil, err
	}
	encB64 := base64.StdEncoding.EncodeToString(cipherBytes)
	sig := c.signature(timestamp, nonce, encB64)
	return &EnvelopeReply{
		Encrypt:      encB64,
		MsgSignature: sig,
		Timestamp:    timestamp,
		Nonce:        nonce,
	}, nil
}

// DecryptAttachment performs raw CBC decryption (same key/IV derivation,
// same padding scheme) with no length-header or receive-id framing —
// attachment bodies carry only padded ciphertext.
func (c *Crypto) DecryptAttachment(ciphertext []byte) ([]byte, error) {
	return c.decryptCBC(ciphertext)
}

func (c *Crypto) decryptCBC(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, cryptoErr("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, cryptoErr("constructing AES cipher: %v", err)
	}
	iv := c.key[:aes.BlockSize]
	mode := cipher.NewCBCDecrypter(block, iv)
	plain := make([]byte, len(ciphertext))
	mode.CryptBlocks(plain, ciphertext)
	return stripWeComPadding(plain)
}

func (c *Crypto) encryptCBC(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, cryptoErr("constructing AES cipher: %v", err)
	}
	padded := addWeComPadding(plaintext)
	iv := c.key[:aes.BlockSize]
	mode := cipher.NewCBCEncrypter(block, iv)
	out := make([]byte, len(padded))
	mode.CryptBlocks(out, padded)
	return out, nil
}

// stripWeComPadding removes WeCom's PKCS-style padding: the last byte n must
// be in [1, 32] and is the count of trailing pad bytes to remove.
func stripWeComPadding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, cryptoErr("cannot strip padding from empty data")
	}
	n := int(data[len(data)-1])
	if n < 1 || n > 32 || n > len(data) {
		return nil, cryptoErr("invalid padding byte %d", n)
	}
	return data[:len(data)-n], nil
}

func addWeComPadding(data []byte) []byte {
	const blockSize = 32
	n := blockSize - (len(data) % blockSize)
	if n == 0 {
		n = blockSize
	}
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}
