package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
	"github.com/fyrsmithlabs/quoted/internal/normalize"
)

var (
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	angleEmailRe = regexp.MustCompile(`<\s*([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})\s*>`)
	phoneLabelRe = regexp.MustCompile(`(?i)\b(?:tel|tél|phone|mobile|mob|gsm|cell|whatsapp|telefoon|telefon|telefono|téléphone|portable)\.?\s*[:.]?\s*(\+?\d[\d\s().\-/]{6,20}\d)`)
	phoneIntlRe  = regexp.MustCompile(`(?:\+|\b00)\d[\d\s().\-]{7,18}\d`)
	companyRe    = regexp.MustCompile(`(?:^|[^\p{L}\d])(\p{Lu}[\p{L}\d&'.\-]*(?:[ \t]+(?:\p{Lu}[\p{L}\d&'.\-]*|&)){0,4}[ \t]+(?:BVBA|BV|B\.V\.|NV|N\.V\.|SA|S\.A\.|SPRL|SRL|SARL|SAS|GmbH|Ltd|LLC|Inc|Corp|LLP|AG))(?:[^\p{L}\d]|$)`)
)

// signOffs open the signature region; folded, matched at line start.
var signOffs = []string{
	"best regards", "kind regards", "regards", "cordialement", "bien a vous",
	"met vriendelijke groet", "vriendelijke groeten", "mvg", "groeten",
	"mit freundlichen grussen", "viele grusse", "saludos", "atentamente",
	"thanks", "thank you", "merci", "sincerely", "cheers", "salutations",
}

// notNames are capitalised words that open lines but are not names.
var notNames = words("vehicle", "contact", "from", "to", "regards", "thanks", "merci",
	"hello", "hi", "dear", "bonjour", "beste", "hallo", "sent", "tel", "phone", "email", "e-mail")

// NormalizePhone keeps digits with a leading plus; "00" becomes "+" and a
// "(0)" trunk prefix is dropped. It returns "" when fewer than 8 or more
// than 15 digits remain.
func NormalizePhone(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "(0)", "")
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if !plus && strings.HasPrefix(d, "00") {
		d, plus = d[2:], true
	}
	if len(d) < 8 || len(d) > 15 {
		return ""
	}
	if plus {
		return "+" + d
	}
	return d
}

// contactGroup reads the requester. From-header hints win; the text fills
// what they leave out.
func contactGroup(text, from string, r *Result, o Origin) int {
	hits := 0
	if from != "" {
		name, email := fingerprint.ParseFrom(from)
		if r.set(FieldContactName, name, OriginHeader) {
			hits++
		}
		if r.set(FieldContactEmail, email, OriginHeader) {
			hits++
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if r.Has(FieldContactEmail) && r.Has(FieldContactName) {
			break
		}
		m := angleEmailRe.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		if r.set(FieldContactEmail, strings.ToLower(line[m[2]:m[3]]), o) {
			hits++
		}
		if name := trailingName(line[:m[0]]); r.set(FieldContactName, name, o) {
			hits++
		}
	}

	if !r.Has(FieldContactEmail) {
		if e := emailRe.FindString(text); r.set(FieldContactEmail, strings.ToLower(e), o) {
			hits++
		}
	}

	sig := signature(text)
	if !r.Has(FieldContactName) {
		for _, line := range sig {
			if looksLikeName(line) {
				if r.set(FieldContactName, line, o) {
					hits++
				}
				break
			}
		}
	}

	if p := phone(text); r.set(FieldContactPhone, p, o) {
		hits++
	}

	company := ""
	for _, line := range sig {
		if company = findCompany(line); company != "" {
			break
		}
	}
	if company == "" {
		company = findCompany(text)
	}
	if r.set(FieldContactCompany, company, o) {
		hits++
	}
	return hits
}

// trailingName returns the run of capitalised words just before an address.
func trailingName(prefix string) string {
	fields := strings.Fields(strings.TrimRight(prefix, " \t:,-"))
	i := len(fields)
	for i > 0 && len(fields)-i < 4 {
		w := strings.Trim(fields[i-1], `"',`)
		if !capitalised(w) || notNames[normalize.Fold(w)] {
			break
		}
		i--
	}
	name := make([]string, 0, len(fields)-i)
	for _, w := range fields[i:] {
		name = append(name, strings.Trim(w, `"',`))
	}
	return strings.Join(name, " ")
}

func capitalised(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}
	return false
}

// signature returns the non-empty lines that follow the last sign-off.
func signature(text string) []string {
	lines := strings.Split(text, "\n")
	at := -1
	for i, l := range lines {
		f := strings.TrimSpace(normalize.Fold(l))
		for _, so := range signOffs {
			if strings.HasPrefix(f, so) && len(f) <= len(so)+2 {
				at = i
			}
		}
	}
	if at < 0 {
		return nil
	}
	var out []string
	for _, l := range lines[at+1:] {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
		if len(out) == 4 {
			break
		}
	}
	return out
}

func looksLikeName(line string) bool {
	ws := strings.Fields(line)
	if len(ws) < 2 || len(ws) > 4 {
		return false
	}
	for _, w := range ws {
		if !capitalised(w) || notNames[normalize.Fold(w)] {
			return false
		}
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '-' && r != '\'' && r != '.' {
				return false
			}
		}
	}
	return findCompany(line) == ""
}

func findCompany(s string) string {
	if m := companyRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func phone(text string) string {
	if m := phoneLabelRe.FindStringSubmatch(text); m != nil {
		if p := NormalizePhone(m[1]); p != "" {
			return p
		}
	}
	for _, m := range phoneIntlRe.FindAllString(text, -1) {
		if p := NormalizePhone(m); p != "" {
			return p
		}
	}
	return ""
}
