package parser

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// geminiPrefix holds the fields recovered from the head of a Gemini
// session document without parsing all of it.
type geminiPrefix struct {
	sessionID   string
	startTime   string
	lastUpdated string
	projectHash string
	summary     string
	firstUser   string
}

func (p geminiPrefix) done() bool {
	return p.sessionID != "" && p.startTime != "" && p.firstUser != ""
}

// prefixScanner walks a possibly truncated JSON document. Every
// method returns false once the input ends or stops making sense,
// and the caller keeps whatever it has collected up to that point.
type prefixScanner struct {
	data []byte
	pos  int
	out  geminiPrefix
}

// scanGeminiPrefix recovers session metadata and the first user
// message from data, which may be cut at any byte.
func scanGeminiPrefix(data []byte) geminiPrefix {
	s := &prefixScanner{data: data}
	if !s.ws() {
		return s.out
	}
	switch s.data[s.pos] {
	case '{':
		s.rootObject()
	case '[':
		s.messageArray()
	}
	return s.out
}

func (s *prefixScanner) ws() bool {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return true
		}
	}
	return false
}

// expect consumes c after optional whitespace.
func (s *prefixScanner) expect(c byte) bool {
	if !s.ws() || s.data[s.pos] != c {
		return false
	}
	s.pos++
	return true
}

// peek returns the next non-space byte without consuming it.
func (s *prefixScanner) peek() (byte, bool) {
	if !s.ws() {
		return 0, false
	}
	return s.data[s.pos], true
}

// object iterates the members of the object at the cursor, calling
// member with the cursor on each value. member must consume the
// value and return false to stop.
func (s *prefixScanner) object(member func(key string) bool) bool {
	if !s.expect('{') {
		return false
	}
	for {
		c, ok := s.peek()
		if !ok {
			return false
		}
		if c == '}' {
			s.pos++
			return true
		}
		key, complete := s.str()
		if !complete || !s.expect(':') || !s.ws() {
			return false
		}
		if !member(key) {
			return false
		}
		c, ok = s.peek()
		if !ok {
			return false
		}
		switch c {
		case ',':
			s.pos++
		case '}':
			s.pos++
			return true
		default:
			return false
		}
	}
}

// array iterates the elements of the array at the cursor.
func (s *prefixScanner) array(elem func() bool) bool {
	if !s.expect('[') {
		return false
	}
	for {
		c, ok := s.peek()
		if !ok {
			return false
		}
		if c == ']' {
			s.pos++
			return true
		}
		if !elem() {
			return false
		}
		c, ok = s.peek()
		if !ok {
			return false
		}
		switch c {
		case ',':
			s.pos++
		case ']':
			s.pos++
			return true
		default:
			return false
		}
	}
}

// str reads the string at the cursor. complete is false when the
// input ends inside it; the decoded prefix is still returned.
func (s *prefixScanner) str() (val string, complete bool) {
	if !s.ws() || s.data[s.pos] != '"' {
		return "", false
	}
	start := s.pos
	i := start + 1
	escaped := false
	for ; i < len(s.data); i++ {
		c := s.data[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			s.pos = i + 1
			return decodeJSONString(s.data[start : i+1]), true
		}
	}
	s.pos = len(s.data)
	// Cut mid-string: drop a dangling escape and close the quote.
	raw := s.data[start:]
	if escaped {
		raw = raw[:len(raw)-1]
	}
	if j := bytes.LastIndex(raw, []byte(`\u`)); j >= 0 && len(raw)-j < 6 &&
		backslashesBefore(raw, j)%2 == 0 {
		raw = raw[:j]
	}
	return decodeJSONString(append(append([]byte{}, raw...), '"')), false
}

// backslashesBefore counts the run of backslashes ending just
// before raw[i].
func backslashesBefore(raw []byte, i int) int {
	n := 0
	for i--; i >= 0 && raw[i] == '\\'; i-- {
		n++
	}
	return n
}

func decodeJSONString(raw []byte) string {
	if bytes.IndexByte(raw, '\\') < 0 {
		return string(raw[1 : len(raw)-1])
	}
	return gjson.ParseBytes(raw).Str
}

// strOrSkip reads a string value, or skips any other value and
// returns "".
func (s *prefixScanner) strOrSkip() (string, bool) {
	c, ok := s.peek()
	if !ok {
		return "", false
	}
	if c != '"' {
		return "", s.skip()
	}
	return s.str()
}

// skip consumes one value of any type, tracking bracket depth and
// string state.
func (s *prefixScanner) skip() bool {
	if !s.ws() {
		return false
	}
	switch s.data[s.pos] {
	case '"':
		_, complete := s.str()
		return complete
	case '{', '[':
		depth := 0
		inStr, escaped := false, false
		for ; s.pos < len(s.data); s.pos++ {
			c := s.data[s.pos]
			if inStr {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inStr = false
				}
				continue
			}
			switch c {
			case '"':
				inStr = true
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					s.pos++
					return true
				}
			}
		}
		return false
	}
	for ; s.pos < len(s.data); s.pos++ {
		switch s.data[s.pos] {
		case ',', '}', ']', ' ', '\t', '\n', '\r':
			return true
		}
	}
	return false
}

func (s *prefixScanner) rootObject() {
	s.object(func(key string) bool {
		var field *string
		switch key {
		case "sessionId":
			field = &s.out.sessionID
		case "startTime":
			field = &s.out.startTime
		case "lastUpdated":
			field = &s.out.lastUpdated
		case "projectHash":
			field = &s.out.projectHash
		case "summary":
			field = &s.out.summary
		case "messages", "history", "items":
			if c, ok := s.peek(); ok && c == '[' {
				return s.messageArray() && !s.out.done()
			}
			return s.skip()
		default:
			return s.skip()
		}
		v, complete := s.strOrSkip()
		if complete {
			*field = v
		}
		return complete
	})
}

// messageArray scans messages until the first user message with
// text has been seen.
func (s *prefixScanner) messageArray() bool {
	return s.array(func() bool {
		if s.out.firstUser != "" {
			return s.skip()
		}
		c, ok := s.peek()
		if !ok {
			return false
		}
		if c != '{' {
			return s.skip()
		}
		var role, text string
		ok = s.object(func(key string) bool {
			switch key {
			case "type", "role":
				v, complete := s.strOrSkip()
				role = v
				return complete
			case "content", "parts":
				t, complete := s.contentText()
				if text == "" {
					text = t
				}
				return complete
			}
			return s.skip()
		})
		if role == "user" && text != "" {
			s.out.firstUser = text
		}
		return ok && !s.out.done()
	})
}

// contentText reads message content given as a string or as an
// array of parts, returning the first text found. Partial text cut
// by the end of input is returned with complete=false.
func (s *prefixScanner) contentText() (string, bool) {
	c, ok := s.peek()
	if !ok {
		return "", false
	}
	switch c {
	case '"':
		return s.str()
	case '[':
		var text string
		complete := s.array(func() bool {
			c, ok := s.peek()
			if !ok {
				return false
			}
			if c == '"' {
				v, complete := s.str()
				if text == "" {
					text = v
				}
				return complete
			}
			if c != '{' || text != "" {
				return s.skip()
			}
			return s.object(func(key string) bool {
				if key != "text" {
					return s.skip()
				}
				v, complete := s.strOrSkip()
				if text == "" {
					text = v
				}
				return complete
			})
		})
		return text, complete
	}
	return "", s.skip()
}
