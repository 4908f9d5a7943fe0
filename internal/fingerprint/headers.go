package fingerprint

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Header keys returned by ParseHeaders.
const (
	HeaderFrom      = "from"
	HeaderTo        = "to"
	HeaderSubject   = "subject"
	HeaderDate      = "date"
	HeaderMessageID = "message-id"
)

var headerKeys = []string{HeaderFrom, HeaderTo, HeaderSubject, HeaderDate, HeaderMessageID}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader resolves any WHATWG-known charset for RFC 2047 words and
// MIME parts.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(strings.ToLower(strings.TrimSpace(charset)))
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// ParseHeaders returns from/to/subject/date/message-id for email-shaped
// input, with RFC 2047 words decoded. Input without at least one of From,
// Subject or Message-ID is not treated as email and yields an empty map, and
// neither is input whose From carries no address and has no Message-ID.
func ParseHeaders(raw []byte) map[string]string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return map[string]string{}
	}
	return headersOf(msg.Header)
}

func headersOf(h mail.Header) map[string]string {
	out := make(map[string]string, len(headerKeys))
	for _, k := range headerKeys {
		v := strings.TrimSpace(h.Get(k))
		if v == "" {
			continue
		}
		if dec, err := wordDecoder.DecodeHeader(v); err == nil {
			v = dec
		}
		out[k] = v
	}
	if out[HeaderFrom] == "" && out[HeaderSubject] == "" && out[HeaderMessageID] == "" {
		return map[string]string{}
	}
	// A form line like "From: Antwerp" is a route, not a sender.
	if from := out[HeaderFrom]; from != "" && out[HeaderMessageID] == "" {
		if _, addr := ParseFrom(from); addr == "" {
			return map[string]string{}
		}
	}
	return out
}

// ParseFrom splits a From header into display name and address. Either may
// be empty when the header is malformed.
func ParseFrom(from string) (name, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	p := mail.AddressParser{WordDecoder: wordDecoder}
	if addr, err := p.Parse(from); err == nil {
		return strings.TrimSpace(addr.Name), strings.ToLower(addr.Address)
	}

	// Tolerate unquoted commas and similar in the display name.
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			addr := strings.TrimSpace(from[i+1 : i+j])
			name = strings.Trim(strings.TrimSpace(from[:i]), `"'`)
			if strings.Contains(addr, "@") {
				return name, strings.ToLower(addr)
			}
			return name, ""
		}
	}
	if strings.Contains(from, "@") && !strings.ContainsAny(from, " \t") {
		return "", strings.ToLower(from)
	}
	return from, ""
}

// MessageID strips whitespace and angle brackets from a Message-ID value.
func MessageID(v string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(v), "<>"))
}
