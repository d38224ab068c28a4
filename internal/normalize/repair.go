package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

var (
	fenceRe        = regexp.MustCompile("```json\\s?|```")
	partialEscRe   = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$`)
	lenientTextRe  = regexp.MustCompile(`(?s)"text"\s*:\s*"((?:[^"\\]|\\.)*)`)
	trailingWordRe = regexp.MustCompile(`[A-Za-z0-9.+\-]+$`)
)

// stripFences removes markdown code fence markers and surrounding whitespace.
func stripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

type frame struct {
	open      byte
	expectKey bool
}

// scanner tracks JSON structure well enough to find the end of the root
// object, or to synthesize a plausible end when the input was cut off.
type scanner struct {
	stack         []frame
	inString      bool
	escaped       bool
	stringIsKey   bool
	awaitingColon bool
}

func (s *scanner) top() *frame {
	if len(s.stack) == 0 {
		return nil
	}
	return &s.stack[len(s.stack)-1]
}

// extractObject returns the JSON text of the root object starting at the first
// '{' in s. complete reports whether a matching close was present; when it was
// not, the returned text has been repaired. ok is false when s has no '{'.
func extractObject(s string) (candidate string, complete bool, ok bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false, false
	}
	body := s[start:]

	var sc scanner
	for i := 0; i < len(body); i++ {
		c := body[i]
		if sc.inString {
			switch {
			case sc.escaped:
				sc.escaped = false
			case c == '\\':
				sc.escaped = true
			case c == '"':
				sc.inString = false
				if sc.stringIsKey {
					sc.awaitingColon = true
					sc.stringIsKey = false
				}
			}
			continue
		}

		switch c {
		case '"':
			sc.inString = true
			if f := sc.top(); f != nil && f.open == '{' && f.expectKey {
				sc.stringIsKey = true
				f.expectKey = false
			}
		case ':':
			sc.awaitingColon = false
		case ',':
			if f := sc.top(); f != nil && f.open == '{' {
				f.expectKey = true
			}
		case '{':
			sc.stack = append(sc.stack, frame{open: '{', expectKey: true})
		case '[':
			sc.stack = append(sc.stack, frame{open: '['})
		case '}', ']':
			f := sc.top()
			if f == nil || f.open != opener(c) {
				continue
			}
			sc.stack = sc.stack[:len(sc.stack)-1]
			if len(sc.stack) == 0 {
				return body[:i+1], true, true
			}
		}
	}

	return sc.repair(body), false, true
}

// repair closes whatever the scan left open: the current string, a key with
// no value, a dangling separator or partial literal, then every open bracket
// in reverse order.
func (s *scanner) repair(body string) string {
	out := body
	if s.inString {
		if s.escaped {
			out = out[:len(out)-1]
		}
		out = trimPartialEscape(out) + `"`
		if s.stringIsKey {
			out += ":null"
		}
	} else {
		out = completeTrailingToken(strings.TrimRightFunc(out, unicode.IsSpace))
		switch {
		case s.awaitingColon:
			out += ":null"
		case strings.HasSuffix(out, ","):
			out = out[:len(out)-1]
		case strings.HasSuffix(out, ":"):
			out += "null"
		}
	}

	var b strings.Builder
	b.WriteString(out)
	for i := len(s.stack) - 1; i >= 0; i-- {
		b.WriteByte(closer(s.stack[i].open))
	}
	return b.String()
}

// trimPartialEscape drops an incomplete \uXXXX escape at the end of a string body.
func trimPartialEscape(s string) string {
	loc := partialEscRe.FindStringIndex(s)
	if loc == nil {
		return s
	}
	slashes := 0
	for i := loc[0]; i >= 0 && s[i] == '\\'; i-- {
		slashes++
	}
	if slashes%2 == 0 {
		return s
	}
	return s[:loc[0]]
}

// completeTrailingToken replaces a truncated bare literal (e.g. "tru", "12.")
// with null.
func completeTrailingToken(s string) string {
	tok := trailingWordRe.FindString(s)
	if tok == "" {
		return s
	}
	switch tok {
	case "true", "false", "null":
		return s
	}
	if json.Valid([]byte(tok)) {
		return s
	}
	return s[:len(s)-len(tok)] + "null"
}

// lenientNarrative pulls the "text" value out of text that could not be
// parsed, tolerating a value cut off before its closing quote.
func lenientNarrative(s string) (string, bool) {
	m := lenientTextRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	raw := trimPartialEscape(m[1])
	text := raw
	var decoded string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &decoded); err == nil {
		text = decoded
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text + "...", true
}

func opener(c byte) byte {
	if c == ']' {
		return '['
	}
	return '{'
}

func closer(c byte) byte {
	if c == '[' {
		return ']'
	}
	return '}'
}
