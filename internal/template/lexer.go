package template

import (
	"fmt"
	"strings"
	"unicode"
)

// Lexer tokenizes template source, alternating between raw-text mode and
// tag mode (inside {{ }}, {% %}, or skipping {# #}).
type Lexer struct {
	src   string
	pos   int
	line  int
	inTag bool
}

// NewLexer returns a lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1}
}

// Tokenize returns every token in src, ending with a TokenEOF. The "-"
// whitespace-trim variants ({{-, -}}, {%-, -%}) are applied here, so the
// parser and renderer never see trim flags: adjacent text tokens arrive
// already trimmed.
func Tokenize(src string) ([]Token, error) {
	l := NewLexer(src)
	var out []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Type == TokenEOF {
			return applyTrim(out), nil
		}
	}
}

func applyTrim(toks []Token) []Token {
	for i := range toks {
		switch {
		case toks[i].TrimBefore && i > 0 && toks[i-1].Type == TokenText:
			toks[i-1].Value = strings.TrimRight(toks[i-1].Value, " \t\r\n")
		case toks[i].TrimAfter && i+1 < len(toks) && toks[i+1].Type == TokenText:
			toks[i+1].Value = strings.TrimLeft(toks[i+1].Value, " \t\r\n")
		}
	}
	return toks
}

func (l *Lexer) next() (Token, error) {
	if !l.inTag {
		return l.nextText()
	}
	return l.nextTagToken()
}

// nextText consumes raw text up to the next {{, {%, or {#, handling {#
// comments by skipping them entirely (they produce no token, so this
// loops rather than returning a token for them).
func (l *Lexer) nextText() (Token, error) {
	for {
		if l.pos >= len(l.src) {
			return Token{Type: TokenEOF, Line: l.line}, nil
		}
		start := l.pos
		startLine := l.line
		idx := l.findDelim(l.pos)
		if idx < 0 {
			text := l.src[l.pos:]
			l.advance(text)
			if text == "" {
				return Token{Type: TokenEOF, Line: l.line}, nil
			}
			return Token{Type: TokenText, Value: text, Line: startLine}, nil
		}
		if idx == l.pos && l.src[idx] == '{' && idx+1 < len(l.src) && l.src[idx+1] == '#' {
			// Comment: skip to matching #}.
			end := strings.Index(l.src[idx+2:], "#}")
			if end < 0 {
				return Token{}, fmt.Errorf("template: unterminated comment at line %d", l.line)
			}
			l.advance(l.src[l.pos : idx+2+end+2])
			continue
		}
		if idx > start {
			text := l.src[start:idx]
			l.advance(text)
			return Token{Type: TokenText, Value: text, Line: startLine}, nil
		}
		// idx == start and it's {{ or {%
		trim := idx+2 < len(l.src) && l.src[idx+2] == '-'
		if l.src[idx+1] == '{' {
			width := 2
			if trim {
				width = 3
			}
			l.advance(l.src[l.pos : idx+width])
			l.inTag = true
			return Token{Type: TokenExprOpen, Line: startLine, TrimBefore: trim}, nil
		}
		width := 2
		if trim {
			width = 3
		}
		l.advance(l.src[l.pos : idx+width])
		l.inTag = true
		return Token{Type: TokenStmtOpen, Line: startLine, TrimBefore: trim}, nil
	}
}

// findDelim returns the index of the next {{, {%, or {# at or after
// from, or -1 if none remain.
func (l *Lexer) findDelim(from int) int {
	rest := l.src[from:]
	best := -1
	for _, delim := range []string{"{{", "{%", "{#"} {
		if i := strings.Index(rest, delim); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	return from + best
}

func (l *Lexer) advance(consumed string) {
	l.pos += len(consumed)
	l.line += strings.Count(consumed, "\n")
}

func (l *Lexer) nextTagToken() (Token, error) {
	l.skipTagWhitespace()
	if l.pos >= len(l.src) {
		return Token{}, fmt.Errorf("template: unterminated tag at line %d", l.line)
	}
	line := l.line

	if strings.HasPrefix(l.src[l.pos:], "-}}") {
		l.advance(l.src[l.pos : l.pos+3])
		l.inTag = false
		return Token{Type: TokenExprClose, Line: line, TrimAfter: true}, nil
	}
	if strings.HasPrefix(l.src[l.pos:], "}}") {
		l.advance(l.src[l.pos : l.pos+2])
		l.inTag = false
		return Token{Type: TokenExprClose, Line: line}, nil
	}
	if strings.HasPrefix(l.src[l.pos:], "-%}") {
		l.advance(l.src[l.pos : l.pos+3])
		l.inTag = false
		return Token{Type: TokenStmtClose, Line: line, TrimAfter: true}, nil
	}
	if strings.HasPrefix(l.src[l.pos:], "%}") {
		l.advance(l.src[l.pos : l.pos+2])
		l.inTag = false
		return Token{Type: TokenStmtClose, Line: line}, nil
	}

	c := l.src[l.pos]
	switch {
	case c == '"' || c == '\'':
		return l.lexString(c, line)
	case unicode.IsDigit(rune(c)):
		return l.lexNumber(line)
	case isIdentStart(c):
		return l.lexIdentOrKeyword(line)
	}

	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==":
		l.advance(two)
		return Token{Type: TokenEq, Line: line}, nil
	case "!=":
		l.advance(two)
		return Token{Type: TokenNotEq, Line: line}, nil
	case "<=":
		l.advance(two)
		return Token{Type: TokenLtEq, Line: line}, nil
	case ">=":
		l.advance(two)
		return Token{Type: TokenGtEq, Line: line}, nil
	}

	single := l.src[l.pos : l.pos+1]
	l.advance(single)
	switch single {
	case ".":
		return Token{Type: TokenDot, Line: line}, nil
	case "[":
		return Token{Type: TokenLBracket, Line: line}, nil
	case "]":
		return Token{Type: TokenRBracket, Line: line}, nil
	case "(":
		return Token{Type: TokenLParen, Line: line}, nil
	case ")":
		return Token{Type: TokenRParen, Line: line}, nil
	case ",":
		return Token{Type: TokenComma, Line: line}, nil
	case "|":
		return Token{Type: TokenPipe, Line: line}, nil
	case "=":
		return Token{Type: TokenAssign, Line: line}, nil
	case "<":
		return Token{Type: TokenLt, Line: line}, nil
	case ">":
		return Token{Type: TokenGt, Line: line}, nil
	case "+":
		return Token{Type: TokenPlus, Line: line}, nil
	case "-":
		return Token{Type: TokenMinus, Line: line}, nil
	case "*":
		return Token{Type: TokenStar, Line: line}, nil
	case "/":
		return Token{Type: TokenSlash, Line: line}, nil
	case "%":
		return Token{Type: TokenPercent, Line: line}, nil
	case ":":
		return Token{Type: TokenColon, Line: line}, nil
	default:
		return Token{}, fmt.Errorf("template: unexpected character %q at line %d", single, line)
	}
}

func (l *Lexer) skipTagWhitespace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			l.advance(l.src[l.pos : l.pos+1])
			continue
		}
		break
	}
}

func (l *Lexer) lexString(quote byte, line int) (Token, error) {
	start := l.pos + 1
	i := start
	var sb strings.Builder
	for i < len(l.src) && l.src[i] != quote {
		if l.src[i] == '\\' && i+1 < len(l.src) {
			switch l.src[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(l.src[i+1])
			}
			i += 2
			continue
		}
		sb.WriteByte(l.src[i])
		i++
	}
	if i >= len(l.src) {
		return Token{}, fmt.Errorf("template: unterminated string at line %d", line)
	}
	l.advance(l.src[l.pos : i+1])
	return Token{Type: TokenString, Value: sb.String(), Line: line}, nil
}

func (l *Lexer) lexNumber(line int) (Token, error) {
	start := l.pos
	i := start
	isFloat := false
	for i < len(l.src) && (unicode.IsDigit(rune(l.src[i])) || l.src[i] == '.') {
		if l.src[i] == '.' {
			isFloat = true
		}
		i++
	}
	text := l.src[start:i]
	l.advance(text)
	if isFloat {
		return Token{Type: TokenFloat, Value: text, Line: line}, nil
	}
	return Token{Type: TokenInt, Value: text, Line: line}, nil
}

func (l *Lexer) lexIdentOrKeyword(line int) (Token, error) {
	start := l.pos
	i := start
	for i < len(l.src) && isIdentPart(l.src[i]) {
		i++
	}
	text := l.src[start:i]
	l.advance(text)
	if kw, ok := keywords[text]; ok {
		return Token{Type: kw, Value: text, Line: line}, nil
	}
	return Token{Type: TokenIdent, Value: text, Line: line}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
