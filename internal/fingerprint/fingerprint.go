package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint identifies one intake input.
type Fingerprint struct {
	// MessageID is empty when the input carries none.
	MessageID     string `json:"message_id,omitempty"`
	ContentSHA256 string `json:"content_sha256"`
}

// HasMessageID reports whether a protocol id is present.
func (f Fingerprint) HasMessageID() bool { return f.MessageID != "" }

// FromRaw builds the Fingerprint for raw given its parsed headers and plain
// body. When both body and subject canonicalize to nothing (images, scanned
// PDFs) the raw bytes are hashed instead, so distinct binaries never share
// one fingerprint.
func FromRaw(raw []byte, headers map[string]string, body string) Fingerprint {
	fp := Fingerprint{MessageID: MessageID(headers[HeaderMessageID])}

	cb, cs := Canonical(body), Canonical(headers[HeaderSubject])
	h := sha256.New()
	if cb == "" && cs == "" {
		h.Write(raw)
	} else {
		h.Write([]byte(cb))
		h.Write([]byte{0})
		h.Write([]byte(cs))
	}
	fp.ContentSHA256 = hex.EncodeToString(h.Sum(nil))
	return fp
}

// Compute parses raw and returns its fingerprint with the headers and body
// it was derived from.
func Compute(raw []byte) (Fingerprint, map[string]string, string) {
	headers := ParseHeaders(raw)
	body := ExtractPlainBody(raw)
	return FromRaw(raw, headers, body), headers, body
}

// Canonical collapses every whitespace run to one space and trims.
func Canonical(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
