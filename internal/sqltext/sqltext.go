// Package sqltext does the little SQL inspection the execution engine needs:
// comment stripping and first-keyword sniffing. It never parses statements.
package sqltext

import (
	"strings"
	"unicode"

	"github.com/alecthomas/participle/v2/lexer"
)

// sqlLexer splits SQL text into comments, literals and words. The final
// rules match any remaining character so lexing never fails.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "BlockComment", Pattern: `/\*(?s:.*?)\*/`},
	{Name: "LineComment", Pattern: `--[^\n]*`},
	{Name: "String", Pattern: `'(?:''|[^'])*'`},
	{Name: "QuotedIdent", Pattern: `"(?:""|[^"])*"`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_$#@]*`},
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Other", Pattern: `.`},
})

var (
	symbols      = sqlLexer.Symbols()
	blockComment = symbols["BlockComment"]
	lineComment  = symbols["LineComment"]
	whitespace   = symbols["Whitespace"]
	ident        = symbols["Ident"]
)

func tokens(sql string) []lexer.Token {
	lex, err := sqlLexer.LexString("", sql)
	if err != nil {
		return nil
	}
	var out []lexer.Token
	for {
		tok, err := lex.Next()
		if err != nil || tok.EOF() {
			return out
		}
		out = append(out, tok)
	}
}

func isComment(tok lexer.Token) bool {
	return tok.Type == blockComment || tok.Type == lineComment
}

// StripLeadingComments removes whitespace and comments preceding the first
// real token.
func StripLeadingComments(sql string) string {
	for _, tok := range tokens(sql) {
		if isComment(tok) || tok.Type == whitespace {
			continue
		}
		return sql[tok.Pos.Offset:]
	}
	return ""
}

// StripBlockComments removes every /* ... */ span outside string literals,
// for dialects that reject inline comments.
func StripBlockComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	removed := false
	for _, tok := range tokens(sql) {
		if tok.Type == blockComment {
			removed = true
			continue
		}
		if removed && needsSeparator(b.String(), tok.Value) {
			b.WriteByte(' ')
		}
		removed = false
		b.WriteString(tok.Value)
	}
	return b.String()
}

// needsSeparator reports whether removing a comment glued two words.
func needsSeparator(prev, next string) bool {
	if prev == "" || next == "" {
		return false
	}
	last := rune(prev[len(prev)-1])
	first := rune(next[0])
	return isWordRune(last) && isWordRune(first)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// FirstKeyword returns the upper-cased first word of the statement, after
// comments and whitespace, or "" when there is none.
func FirstKeyword(sql string) string {
	for _, tok := range tokens(sql) {
		switch {
		case isComment(tok) || tok.Type == whitespace:
			continue
		case tok.Type == ident:
			return strings.ToUpper(tok.Value)
		default:
			return ""
		}
	}
	return ""
}
