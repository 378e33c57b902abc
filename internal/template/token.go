// Package template implements a Jinja-family templating language with
// a custom auto-escape policy tied to internal/sqlescape, component
// include/import resolution through internal/loader, and streaming
// output. It is split into a lexer, a recursive-descent parser, and a
// tree-walking evaluator.
package template

import "fmt"

// TokenType identifies a lexical token's category.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenText    // raw template text outside {{ }}/{% %}
	TokenExprOpen  // {{  or  {{-
	TokenExprClose // }}  or  -}}
	TokenStmtOpen  // {%  or  {%-
	TokenStmtClose // %}  or  -%}

	// Tokens valid only inside an expression/statement
	TokenIdent
	TokenString
	TokenInt
	TokenFloat
	TokenDot
	TokenLBracket
	TokenRBracket
	TokenLParen
	TokenRParen
	TokenComma
	TokenPipe
	TokenAssign
	TokenEq
	TokenNotEq
	TokenLt
	TokenLtEq
	TokenGt
	TokenGtEq
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenColon

	// Keywords
	TokenIf
	TokenElif
	TokenElse
	TokenEndif
	TokenFor
	TokenEndfor
	TokenIn
	TokenSet
	TokenMacro
	TokenEndmacro
	TokenInclude
	TokenFrom
	TokenImport
	TokenAnd
	TokenOr
	TokenNot
	TokenTrue
	TokenFalse
	TokenNone
)

var keywords = map[string]TokenType{
	"if": TokenIf, "elif": TokenElif, "else": TokenElse, "endif": TokenEndif,
	"for": TokenFor, "endfor": TokenEndfor, "in": TokenIn,
	"set": TokenSet, "macro": TokenMacro, "endmacro": TokenEndmacro,
	"include": TokenInclude, "from": TokenFrom, "import": TokenImport,
	"and": TokenAnd, "or": TokenOr, "not": TokenNot,
	"true": TokenTrue, "false": TokenFalse, "none": TokenNone,
	"True": TokenTrue, "False": TokenFalse, "None": TokenNone,
}

// Token is a single lexical unit with its source line for diagnostics.
type Token struct {
	Type  TokenType
	Value string
	Line  int
	// TrimBefore/TrimAfter record whether this delimiter used the "-"
	// whitespace-trim variant ({{- or -}}).
	TrimBefore bool
	TrimAfter  bool
}

func (t Token) String() string { return fmt.Sprintf("%v(%q)@%d", t.Type, t.Value, t.Line) }
