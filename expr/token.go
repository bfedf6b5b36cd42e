// Modifications Copyright (c) 2017-2018 Uber Technologies, Inc.
// Copyright (c) 2013-2016 Errplane Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Token is a lexical token of the scan predicate language.
type Token int

const (
	// Special tokens
	ILLEGAL Token = iota
	EOF
	WS

	literal_beg
	// Literals
	IDENT     // main
	NUMBER    // 12345.67
	STRING    // "abc"
	BADSTRING // "abc
	BADESCAPE // \q
	NULL      // NULL
	UNKNOWN   // UNKNOWN
	TRUE      // true
	FALSE     // false
	literal_end

	operator_beg
	// Operators
	unary_operator_beg
	EXCLAMATION // !
	UNARY_MINUS // -
	NOT         // NOT
	unary_operator_end

	derived_unary_operator_beg
	IS_NULL     // IS NULL
	IS_NOT_NULL // IS NOT NULL
	IS_TRUE     // IS TRUE
	IS_FALSE    // IS FALSE
	derived_unary_operator_end

	binary_operator_beg
	ADD // +
	SUB // -
	MUL // *
	DIV // /
	MOD // %

	AND // AND
	OR  // OR

	IS  // IS
	NEQ // !=
	// Do not modify the order of the following 5 operators
	EQ  // =
	LT  // <
	LTE // <=
	GT  // >
	GTE // >=
	binary_operator_end
	operator_end

	LPAREN // (
	RPAREN // )
	COMMA  // ,
	DOT    // .
)

var tokens = map[Token]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",
	WS:      "WS",

	IDENT:     "IDENT",
	NUMBER:    "NUMBER",
	STRING:    "STRING",
	BADSTRING: "BADSTRING",
	BADESCAPE: "BADESCAPE",
	NULL:      "NULL",
	UNKNOWN:   "UNKNOWN",
	TRUE:      "TRUE",
	FALSE:     "FALSE",

	EXCLAMATION: "!",
	UNARY_MINUS: "-",
	NOT:         "NOT",
	IS_NULL:     "IS NULL",
	IS_NOT_NULL: "IS NOT NULL",
	IS_TRUE:     "IS TRUE",
	IS_FALSE:    "IS FALSE",

	ADD: "+",
	SUB: "-",
	MUL: "*",
	DIV: "/",
	MOD: "%",

	AND: "AND",
	OR:  "OR",

	IS:  "IS",
	EQ:  "=",
	NEQ: "!=",
	LT:  "<",
	LTE: "<=",
	GT:  ">",
	GTE: ">=",

	LPAREN: "(",
	RPAREN: ")",
	COMMA:  ",",
	DOT:    ".",
}

var keywords map[string]Token
var tokenIDs map[string]Token

func init() {
	keywords = make(map[string]Token)
	for _, tok := range []Token{AND, OR, IS, NOT} {
		keywords[strings.ToLower(tokens[tok])] = tok
	}
	keywords["null"] = NULL
	keywords["unknown"] = UNKNOWN
	keywords["true"] = TRUE
	keywords["false"] = FALSE

	tokenIDs = make(map[string]Token, len(tokens))
	for tok, s := range tokens {
		tokenIDs[s] = tok
	}
	// "-" names both the unary and the binary minus; reading it back
	// yields the binary operator.
	tokenIDs[tokens[SUB]] = SUB
}

// String returns the string representation of the token.
func (tok Token) String() string {
	if s, ok := tokens[tok]; ok {
		return s
	}
	return ""
}

func (tok Token) MarshalJSON() ([]byte, error) {
	buffer := bytes.NewBufferString(`"`)
	buffer.WriteString(tokens[tok])
	buffer.WriteString(`"`)
	return buffer.Bytes(), nil
}

func (tok *Token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, ok := tokenIDs[s]
	if !ok {
		return fmt.Errorf("unknown token %q", s)
	}
	*tok = t
	return nil
}

// Precedence returns the operator precedence of the binary operator token.
func (tok Token) Precedence() int {
	switch tok {
	case OR:
		return 1
	case AND:
		return 2
	case NOT:
		return 3
	case IS, EQ, NEQ, LT, LTE, GT, GTE:
		return 4
	case ADD, SUB:
		return 5
	case MUL, DIV, MOD:
		return 6
	case UNARY_MINUS:
		return 7
	case EXCLAMATION:
		return 8
	}
	return 0
}

func (tok Token) isUnaryOperator() bool {
	return tok > unary_operator_beg && tok < unary_operator_end
}

func (tok Token) isDerivedUnaryOperator() bool {
	return tok > derived_unary_operator_beg && tok < derived_unary_operator_end
}

func (tok Token) isBinaryOperator() bool {
	return tok > binary_operator_beg && tok < binary_operator_end
}

// tokstr returns a literal if provided, otherwise returns the token string.
func tokstr(tok Token, lit string) string {
	if lit != "" {
		return lit
	}
	return tok.String()
}

// Lookup returns the token associated with a given string.
func Lookup(ident string) Token {
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return IDENT
}

// Pos specifies the line and character position of a token.
// The Char and Line are both zero-based indexes.
type Pos struct {
	Line int
	Char int
}
