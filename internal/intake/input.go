package intake

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
)

// ErrInvalidInput matches every *InputError.
var ErrInvalidInput = errors.New("invalid input")

// InputError reports malformed or empty raw input. It is the only error
// Process returns for a bad input, and it is returned before fingerprinting.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "invalid input: " + e.Reason }

// Is lets errors.Is(err, ErrInvalidInput) match.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// RawInput is one request as received. It is not modified by Process.
type RawInput struct {
	Data     []byte
	MIMEType string
	// Channel may be left empty; it is then inferred from MIMEType and
	// Filename.
	Channel extraction.Channel
	// Filename is informational. It never takes part in the fingerprint.
	Filename string
	// Headers optionally supplies from, subject and message-id for inputs
	// that arrive without an RFC 5322 envelope. Parsed headers win.
	Headers map[string]string
	// ClientID is an optional known customer id used as the first
	// resolver hint.
	ClientID string
}

// source names the input for logs and events.
func (in RawInput) source() string {
	if in.Filename != "" {
		return in.Filename
	}
	return fingerprint.MessageID(in.Headers[fingerprint.HeaderMessageID])
}

var extChannels = map[string]extraction.Channel{
	".eml":  extraction.ChannelEmail,
	".txt":  extraction.ChannelText,
	".html": extraction.ChannelText,
	".htm":  extraction.ChannelText,
	".png":  extraction.ChannelImage,
	".jpg":  extraction.ChannelImage,
	".jpeg": extraction.ChannelImage,
	".gif":  extraction.ChannelImage,
	".webp": extraction.ChannelImage,
	".pdf":  extraction.ChannelPDF,
}

// ChannelForFile returns the channel of a file by extension.
func ChannelForFile(name string) (extraction.Channel, bool) {
	c, ok := extChannels[strings.ToLower(filepath.Ext(name))]
	return c, ok
}

// InferChannel picks a channel from a MIME type, then a filename, then
// the bytes themselves.
func InferChannel(mimeType, filename string, data []byte) extraction.Channel {
	mt, _, _ := mime.ParseMediaType(mimeType)
	switch {
	case mt == "message/rfc822":
		return extraction.ChannelEmail
	case mt == "application/pdf":
		return extraction.ChannelPDF
	case strings.HasPrefix(mt, "image/"):
		return extraction.ChannelImage
	case strings.HasPrefix(mt, "text/"):
		return extraction.ChannelText
	}
	if c, ok := ChannelForFile(filename); ok {
		return c
	}
	if len(data) > 0 {
		return InferChannel(http.DetectContentType(data), "", nil)
	}
	return ""
}

// normalized validates in and fills its channel and MIME type.
func normalized(in RawInput) (RawInput, error) {
	if len(in.Data) == 0 {
		return in, invalid("empty input")
	}
	if in.Channel == "" {
		in.Channel = InferChannel(in.MIMEType, in.Filename, in.Data)
	}
	if !in.Channel.Valid() {
		return in, invalid("unknown channel %q", in.Channel)
	}
	if in.MIMEType == "" {
		in.MIMEType = http.DetectContentType(in.Data)
	}
	if !in.Channel.Binary() {
		if !utf8.Valid(in.Data) && !looksLikeMIME(in.Data) {
			return in, invalid("%s input is not valid UTF-8", in.Channel)
		}
		if strings.TrimSpace(string(in.Data)) == "" {
			return in, invalid("%s input has no content", in.Channel)
		}
	}
	return in, nil
}

// looksLikeMIME accepts 8-bit email whose parts declare their own charset.
func looksLikeMIME(data []byte) bool {
	head := strings.ToLower(string(data[:min(len(data), 4096)]))
	return strings.Contains(head, "content-type:") || strings.Contains(head, "mime-version:")
}
