package curl

import "strings"

// token is one shell word of a request template.
type token struct {
	value  string
	offset int
	quoted bool
}

// tokenize splits text into shell words. It understands single quotes,
// double quotes with backslash escapes, backslash escapes outside quotes and
// backslash-newline line continuations.
func tokenize(text string) ([]token, error) {
	var (
		tokens  []token
		cur     strings.Builder
		inWord  bool
		quoted  bool
		wordPos int
	)

	flush := func() {
		if inWord {
			tokens = append(tokens, token{value: cur.String(), offset: wordPos, quoted: quoted})
		}
		cur.Reset()
		inWord, quoted = false, false
	}
	begin := func(pos int) {
		if !inWord {
			inWord = true
			wordPos = pos
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()

		case c == '\\':
			if n := continuationLen(text, i+1); n > 0 {
				i += n
				continue
			}
			if i+1 >= len(text) {
				return nil, &ParseError{Offset: i, Msg: "dangling backslash"}
			}
			begin(i)
			i++
			cur.WriteByte(text[i])

		case c == '\'':
			begin(i)
			quoted = true
			end := strings.IndexByte(text[i+1:], '\'')
			if end < 0 {
				return nil, &ParseError{Offset: i, Msg: "unterminated single quote"}
			}
			cur.WriteString(text[i+1 : i+1+end])
			i += end + 1

		case c == '"':
			begin(i)
			quoted = true
			start := i
			closed := false
			for i++; i < len(text); i++ {
				d := text[i]
				if d == '"' {
					closed = true
					break
				}
				if d != '\\' || i+1 >= len(text) {
					cur.WriteByte(d)
					continue
				}
				if n := continuationLen(text, i+1); n > 0 {
					i += n
					continue
				}
				switch next := text[i+1]; next {
				case '"', '\\', '$', '`':
					cur.WriteByte(next)
					i++
				default:
					cur.WriteByte(d)
				}
			}
			if !closed {
				return nil, &ParseError{Offset: start, Msg: "unterminated double quote"}
			}

		default:
			begin(i)
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

// continuationLen returns the length of a line break starting at text[i], or 0.
func continuationLen(text string, i int) int {
	switch {
	case strings.HasPrefix(text[i:], "\r\n"):
		return 2
	case strings.HasPrefix(text[i:], "\n"):
		return 1
	default:
		return 0
	}
}
