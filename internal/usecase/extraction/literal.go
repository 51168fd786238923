package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// parseLiteral reads the relaxed object notation models fall back to when
// they drift from JSON: single quoted strings, True/False/None, bare keys,
// trailing commas and tuples.
func parseLiteral(s string) (map[string]any, error) {
	p := &literalParser{src: []rune(s)}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("literal is %T, not an object", v)
	}
	return obj, nil
}

type literalParser struct {
	src []rune
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal parse at offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) peek() (rune, bool) {
	if p.pos >= len(p.src) {
		return 0, false
	}
	return p.src[p.pos], true
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *literalParser) value() (any, error) {
	r, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}
	switch {
	case r == '{':
		return p.object()
	case r == '[':
		return p.list(']')
	case r == '(':
		return p.list(')')
	case r == '"' || r == '\'':
		return p.str()
	case r == '-' || r == '+' || r == '.' || unicode.IsDigit(r):
		return p.number()
	case isIdentStart(r):
		word := p.ident()
		switch word {
		case "True", "true":
			return true, nil
		case "False", "false":
			return false, nil
		case "None", "null", "nil":
			return nil, nil
		}
		return nil, p.errorf("unknown identifier %q", word)
	}
	return nil, p.errorf("unexpected character %q", r)
}

func (p *literalParser) object() (map[string]any, error) {
	p.pos++ // {
	obj := make(map[string]any)
	for {
		p.skipSpace()
		r, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated object")
		}
		if r == '}' {
			p.pos++
			return obj, nil
		}

		var key string
		switch {
		case r == '"' || r == '\'':
			s, err := p.str()
			if err != nil {
				return nil, err
			}
			key = s
		case isIdentStart(r):
			key = p.ident()
		default:
			return nil, p.errorf("expected object key, got %q", r)
		}

		p.skipSpace()
		if r, ok := p.peek(); !ok || r != ':' {
			return nil, p.errorf("expected ':' after key %q", key)
		}
		p.pos++
		p.skipSpace()

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[key] = v

		p.skipSpace()
		r, ok = p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated object")
		case r == ',':
			p.pos++
		case r == '}':
		default:
			return nil, p.errorf("expected ',' or '}', got %q", r)
		}
	}
}

func (p *literalParser) list(closing rune) ([]any, error) {
	p.pos++
	items := make([]any, 0)
	for {
		p.skipSpace()
		r, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated list")
		}
		if r == closing {
			p.pos++
			return items, nil
		}

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)

		p.skipSpace()
		r, ok = p.peek()
		switch {
		case !ok:
			return nil, p.errorf("unterminated list")
		case r == ',':
			p.pos++
		case r == closing:
		default:
			return nil, p.errorf("expected ',' or %q, got %q", closing, r)
		}
	}
}

func (p *literalParser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		p.pos++
		switch {
		case r == quote:
			return b.String(), nil
		case r != '\\':
			b.WriteRune(r)
			continue
		}

		if p.pos >= len(p.src) {
			break
		}
		esc := p.src[p.pos]
		p.pos++
		switch esc {
		case 'n':
			b.WriteRune('\n')
		case 't':
			b.WriteRune('\t')
		case 'r':
			b.WriteRune('\r')
		case 'b':
			b.WriteRune('\b')
		case 'f':
			b.WriteRune('\f')
		case 'u':
			if p.pos+4 > len(p.src) {
				return "", p.errorf("short unicode escape")
			}
			code, err := strconv.ParseUint(string(p.src[p.pos:p.pos+4]), 16, 32)
			if err != nil {
				return "", p.errorf("bad unicode escape")
			}
			b.WriteRune(rune(code))
			p.pos += 4
		default:
			// \\ \' \" \/ and unknown escapes keep the escaped character.
			b.WriteRune(esc)
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *literalParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if unicode.IsDigit(r) || strings.ContainsRune("+-.eE_", r) {
			p.pos++
			continue
		}
		break
	}
	text := strings.ReplaceAll(string(p.src[start:p.pos]), "_", "")
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, p.errorf("bad number %q", text)
	}
	return f, nil
}

func (p *literalParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		r := p.src[p.pos]
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			p.pos++
			continue
		}
		break
	}
	return string(p.src[start:p.pos])
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}
