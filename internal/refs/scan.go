package refs

import (
	"strings"

	"golang.org/x/net/html"
)

// tokenBreaks split free text into URL candidates. Parentheses and brackets
// cover markdown links and CSS url(...) values.
const tokenBreaks = "\"'<>()[]{},\\|="

func isBreak(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return strings.ContainsRune(tokenBreaks, r)
}

// scanCandidate treats s as one value, typically an asset field. A bare file
// name may match by name; anything with a slash is scanned as text in case it
// carries more than a single URL.
func (e *Extractor) scanCandidate(s string, out Set, allowBase bool) {
	if !strings.Contains(s, "/") {
		e.matchCandidate(s, out, allowBase)
		return
	}
	e.scanText(s, out)
}

// scanText looks for asset URLs anywhere in free text. The whole string is
// tried first since file names may contain token breaks such as "(1)" or ",".
// Markup is tokenized so entity-encoded attribute values are seen decoded as
// well.
func (e *Extractor) scanText(s string, out Set) {
	if !strings.Contains(s, "/") {
		return
	}
	e.matchCandidate(s, out, false)
	e.scanTokens(s, out)
	if strings.ContainsRune(s, '<') {
		e.scanMarkup(s, out)
	}
}

func (e *Extractor) scanTokens(s string, out Set) {
	for _, tok := range strings.FieldsFunc(s, isBreak) {
		tok = strings.TrimRight(tok, ".:;!?")
		if !strings.Contains(tok, "/") {
			continue
		}
		e.matchCandidate(tok, out, false)
	}
}

func (e *Extractor) scanMarkup(s string, out Set) {
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF once the input is consumed; a strings.Reader has no other errors.
			return
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var val []byte
				_, val, hasAttr = z.TagAttr()
				if v := string(val); strings.Contains(v, "/") {
					e.matchCandidate(v, out, false)
					e.scanTokens(v, out)
				}
			}
		case html.TextToken, html.CommentToken:
			if t := string(z.Text()); strings.Contains(t, "/") {
				e.scanTokens(t, out)
			}
		}
	}
}
