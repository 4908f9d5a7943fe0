package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainEmail = "From: =?UTF-8?Q?Badr_Alg=C3=B6thami?= <Badr@Example.com>\r\n" +
	"To: quotes@forwarder.test\r\n" +
	"Subject: Quote request BMW\r\n" +
	"Message-ID: <abc123@mail.example.com>\r\n" +
	"Date: Mon, 2 Mar 2026 10:00:00 +0100\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Vehicle: BMW Serie 7\r\n" +
	"From Bruxelles to Djeddah\r\n"

const multipartEmail = "From: ops@carhanco.test\r\n" +
	"Subject: =?ISO-8859-1?Q?Devis_Anvers_=E0_Dakar?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>HTML body</p></body></html>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Toyota Land Cruiser de Anvers =C3=A0 Dakar\r\n" +
	"--XYZ--\r\n"

func TestParseHeaders(t *testing.T) {
	h := ParseHeaders([]byte(plainEmail))

	assert.Equal(t, "Badr Algöthami <Badr@Example.com>", h[HeaderFrom])
	assert.Equal(t, "Quote request BMW", h[HeaderSubject])
	assert.Equal(t, "<abc123@mail.example.com>", h[HeaderMessageID])
	assert.Equal(t, "quotes@forwarder.test", h[HeaderTo])
	assert.NotEmpty(t, h[HeaderDate])
}

func TestParseHeaders_NotEmail(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"free text", "Vehicle: BMW Série 7, from Bruxelles to Djeddah"},
		{"empty", ""},
		{"binary", "\x89PNG\r\n\x1a\n\x00\x00"},
		{"form line without sender address", "From: Antwerp\nTo: Lagos\nVehicle: Toyota Hilux 2018"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ParseHeaders([]byte(tt.raw)))
		})
	}
}

func TestParseHeaders_ISO8859Subject(t *testing.T) {
	h := ParseHeaders([]byte(multipartEmail))
	assert.Equal(t, "Devis Anvers à Dakar", h[HeaderSubject])
}

func TestExtractPlainBody(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain email",
			raw:  plainEmail,
			want: "Vehicle: BMW Serie 7\nFrom Bruxelles to Djeddah",
		},
		{
			name: "multipart prefers plain and decodes quoted-printable",
			raw:  multipartEmail,
			want: "Toyota Land Cruiser de Anvers à Dakar",
		},
		{
			name: "form with a from line stays text",
			raw:  "From: Antwerp\nTo: Lagos\nVehicle: Toyota Hilux 2018\n",
			want: "From: Antwerp\nTo: Lagos\nVehicle: Toyota Hilux 2018",
		},
		{
			name: "bare text keeps content",
			raw:  "Vehicle: BMW\r\n\r\n\r\nfrom Antwerp to Lagos  \r\n",
			want: "Vehicle: BMW\n\nfrom Antwerp to Lagos",
		},
		{
			name: "bare html stripped",
			raw:  "<html><body><p>Hello&nbsp;there</p><script>x()</script><div>Antwerp</div></body></html>",
			want: "Hello there\n\nAntwerp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPlainBody([]byte(tt.raw)))
		})
	}
}

func TestExtractPlainBody_HTMLOnlyAndBase64(t *testing.T) {
	raw := "From: a@b.test\r\n" +
		"Subject: x\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"PHA+SGVsbG8gPGI+d29ybGQ8L2I+PC9wPg==\r\n"

	assert.Equal(t, "Hello world", ExtractPlainBody([]byte(raw)))
}

func TestParseFrom(t *testing.T) {
	tests := []struct {
		in, name, email string
	}{
		{"Badr Algothami <Badr@Example.com>", "Badr Algothami", "badr@example.com"},
		{`"Smith, John" <john@acme.test>`, "Smith, John", "john@acme.test"},
		{"Smith, John <john@acme.test>", "Smith, John", "john@acme.test"},
		{"john@acme.test", "", "john@acme.test"},
		{"=?UTF-8?Q?Ren=C3=A9?= <rene@x.test>", "René", "rene@x.test"},
		{"just a name", "just a name", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, email := ParseFrom(tt.in)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.email, email)
		})
	}
}

func TestFromRaw_Deterministic(t *testing.T) {
	fp1, _, _ := Compute([]byte(plainEmail))
	fp2, _, _ := Compute([]byte(plainEmail))

	require.Equal(t, fp1, fp2)
	assert.Equal(t, "abc123@mail.example.com", fp1.MessageID)
	assert.True(t, fp1.HasMessageID())
	assert.Len(t, fp1.ContentSHA256, 64)
}

func TestFromRaw_WhitespaceInsensitive(t *testing.T) {
	a := FromRaw(nil, map[string]string{HeaderSubject: "Quote"}, "BMW  from\r\nBruxelles")
	b := FromRaw(nil, map[string]string{HeaderSubject: " Quote "}, "BMW from\nBruxelles\n")
	assert.Equal(t, a.ContentSHA256, b.ContentSHA256)
}

func TestFromRaw_SubjectMatters(t *testing.T) {
	a := FromRaw(nil, map[string]string{HeaderSubject: "Quote A"}, "same body")
	b := FromRaw(nil, map[string]string{HeaderSubject: "Quote B"}, "same body")
	assert.NotEqual(t, a.ContentSHA256, b.ContentSHA256)

	// Body and subject are separated, so moving text across the boundary changes the hash.
	c := FromRaw(nil, map[string]string{HeaderSubject: "b"}, "a")
	d := FromRaw(nil, map[string]string{HeaderSubject: ""}, "a b")
	assert.NotEqual(t, c.ContentSHA256, d.ContentSHA256)
}

func TestFromRaw_BinaryFallsBackToBytes(t *testing.T) {
	a := FromRaw([]byte{0x89, 'P', 'N', 'G', 1}, nil, "")
	b := FromRaw([]byte{0x89, 'P', 'N', 'G', 2}, nil, "")
	assert.NotEqual(t, a.ContentSHA256, b.ContentSHA256)
	assert.Empty(t, a.MessageID)
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, "abc@x", MessageID("  <abc@x> "))
	assert.Equal(t, "", MessageID(""))
}

func TestStripHTML_Entities(t *testing.T) {
	out := StripHTML("<p>L&amp;W 4,5&nbsp;m</p>")
	assert.True(t, strings.Contains(out, "L&W 4,5"))
}
