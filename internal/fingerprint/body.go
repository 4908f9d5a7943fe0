package fingerprint

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/net/html"
)

// maxPartDepth bounds multipart nesting.
const maxPartDepth = 8

// ExtractPlainBody returns the readable text of raw. For email it prefers a
// text/plain part, falling back to stripped text/html; other input is used
// as-is, or stripped when it looks like markup. Line endings become "\n".
func ExtractPlainBody(raw []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil || len(headersOf(msg.Header)) == 0 {
		return bareText(raw)
	}

	plain, rich := walkPart(
		msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"),
		msg.Body, 0,
	)
	if strings.TrimSpace(plain) != "" {
		return normalizeLines(plain)
	}
	return normalizeLines(StripHTML(rich))
}

func bareText(raw []byte) string {
	s := string(raw)
	if looksLikeHTML(s) {
		s = StripHTML(s)
	}
	return normalizeLines(s)
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s)
	if len(head) > 1024 {
		head = head[:1024]
	}
	for _, tag := range []string{"<html", "<body", "<div", "<p>", "<br", "<table", "<!doctype html"} {
		if strings.Contains(head, tag) {
			return true
		}
	}
	return false
}

// walkPart returns the first text/plain and first text/html contents found
// under one MIME entity.
func walkPart(contentType, encoding string, r io.Reader, depth int) (plain, rich string) {
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxPartDepth || params["boundary"] == "" {
			return "", ""
		}
		mr := multipart.NewReader(r, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			p, h := walkPart(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
			if plain == "" {
				plain = p
			}
			if rich == "" {
				rich = h
			}
			_ = part.Close()
			if plain != "" {
				break
			}
		}
		return plain, rich
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", ""
	}

	text := decodeText(r, encoding, params["charset"])
	if mediaType == "text/html" {
		return "", text
	}
	return text, ""
}

func decodeText(r io.Reader, encoding, charset string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		if cr, err := charsetReader(charset, r); err == nil {
			r = cr
		}
	}
	b, err := io.ReadAll(io.LimitReader(r, 10<<20))
	if err != nil && len(b) == 0 {
		return ""
	}
	return string(b)
}

var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// StripHTML returns the text content of an HTML fragment. Block elements
// become line breaks; script and style content is dropped.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

// normalizeLines converts CRLF/CR to LF, trims trailing spaces and squeezes
// runs of blank lines.
func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if strings.TrimSpace(l) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
