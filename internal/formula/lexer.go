package formula

import (
	"strings"
	"unicode"
)

// TokenType is the lexical class of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenLeftBracket
	TokenRightBracket
	TokenIdentifier
)

// Token is one lexeme. Pos counts runes from the start of the formula.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// tokenSet is a bit set of token types.
type tokenSet uint32

func setOf(types ...TokenType) tokenSet {
	var s tokenSet
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

func (s tokenSet) has(t TokenType) bool { return s&(1<<t) != 0 }

// lexState is what the previous token allows next. The lexer rejects a
// token that cannot follow, so the parser never sees "1 2" or "(,".
type lexState int

const (
	stateStart     lexState = iota
	stateOperand            // an operand must come next
	stateOpenParen          // like stateOperand, and ")" closes an empty call
	stateValue              // a literal or "]" was just read
	stateName               // an identifier: "[" may index it
	stateCloseParen         // ")" may be followed by "(" to call a lambda
	stateCall               // a function name: only "(" may follow
)

var (
	operands = setOf(TokenNumber, TokenString, TokenBoolean, TokenFunction,
		TokenIdentifier, TokenLeftParen, TokenUnaryPrefixOp)
	afterOperand = setOf(TokenBinaryOp, TokenUnaryPostfixOp, TokenRightParen,
		TokenRightBracket, TokenComma, TokenEOF)
)

var follows = map[lexState]tokenSet{
	stateStart:      setOf(TokenEquals),
	stateOperand:    operands,
	stateOpenParen:  operands | setOf(TokenRightParen),
	stateValue:      afterOperand,
	stateName:       afterOperand | setOf(TokenLeftBracket),
	stateCloseParen: afterOperand | setOf(TokenLeftParen),
	stateCall:       setOf(TokenLeftParen),
}

// next is the state a token leaves behind. Postfix % keeps the state.
var next = map[TokenType]lexState{
	TokenEquals:        stateOperand,
	TokenNumber:        stateValue,
	TokenString:        stateValue,
	TokenBoolean:       stateValue,
	TokenRightBracket:  stateValue,
	TokenUnaryPrefixOp: stateOperand,
	TokenBinaryOp:      stateOperand,
	TokenComma:         stateOperand,
	TokenLeftBracket:   stateOperand,
	TokenLeftParen:     stateOpenParen,
	TokenRightParen:    stateCloseParen,
	TokenIdentifier:    stateName,
	TokenFunction:      stateCall,
}

// operators lists the infix operators, longest first so "<=" wins over "<".
var operators = []string{"<=", "<>", ">=", "!=", "<", ">", "=", "*", "/", "^", "&"}

// Lexer splits formula text into tokens and checks that each token may
// follow the one before it.
type Lexer struct {
	src    []rune
	pos    int
	state  lexState
	parens int
	square int
	tokens []Token
}

// NewLexer creates a lexer for input. The leading '=' is optional.
func NewLexer(input string) *Lexer {
	l := &Lexer{src: []rune(input), state: stateStart}
	if !strings.HasPrefix(input, "=") {
		l.state = stateOperand
	}
	return l
}

// Tokenize returns the tokens of the whole input, ending with TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	if strings.TrimSpace(string(l.src)) == "" {
		return nil, NewFormulaError(ErrorCodeParse, "empty formula")
	}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			break
		}
		tok, err := l.scan()
		if err != nil {
			return nil, err
		}
		if !follows[l.state].has(tok.Type) {
			return nil, Errorf(ErrorCodeParse, "unexpected token: %s", tok.Value)
		}
		l.tokens = append(l.tokens, tok)
		if st, ok := next[tok.Type]; ok {
			l.state = st
		}
	}

	switch {
	case l.parens > 0:
		return nil, NewFormulaError(ErrorCodeParse, "unbalanced parentheses: missing closing parenthesis")
	case l.square > 0:
		return nil, NewFormulaError(ErrorCodeParse, "unbalanced brackets: missing closing bracket")
	case !follows[l.state].has(TokenEOF):
		if len(l.tokens) == 0 {
			return nil, NewFormulaError(ErrorCodeParse, "empty formula")
		}
		return nil, Errorf(ErrorCodeParse, "unexpected end of formula after: %s", l.tokens[len(l.tokens)-1].Value)
	}
	return append(l.tokens, Token{Type: TokenEOF, Pos: l.pos}), nil
}

func (l *Lexer) scan() (Token, error) {
	start := l.pos
	ch := l.src[l.pos]
	single := func(t TokenType) Token {
		l.pos++
		return Token{Type: t, Value: string(ch), Pos: start}
	}

	switch {
	case ch == '"':
		return l.scanString()
	case isDigit(ch), ch == '.' && isDigit(l.at(1)):
		return l.scanNumber(), nil
	case ch == '@', ch == '_', isLetter(ch):
		return l.scanName()
	}

	switch ch {
	case '(':
		l.parens++
		return single(TokenLeftParen), nil
	case ')':
		if l.parens--; l.parens < 0 {
			return Token{}, NewFormulaError(ErrorCodeParse, "unbalanced parentheses: unexpected closing parenthesis")
		}
		return single(TokenRightParen), nil
	case '[':
		l.square++
		return single(TokenLeftBracket), nil
	case ']':
		if l.square--; l.square < 0 {
			return Token{}, NewFormulaError(ErrorCodeParse, "unbalanced brackets: unexpected closing bracket")
		}
		return single(TokenRightBracket), nil
	case ',':
		return single(TokenComma), nil
	case '%':
		return single(TokenUnaryPostfixOp), nil
	case '+', '-':
		// a sign where an operand is expected, otherwise add or subtract
		if follows[l.state].has(TokenUnaryPrefixOp) {
			return single(TokenUnaryPrefixOp), nil
		}
		return single(TokenBinaryOp), nil
	case '=':
		if start == 0 {
			return single(TokenEquals), nil
		}
	}

	rest := string(l.src[l.pos:min(l.pos+2, len(l.src))])
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return Token{Type: TokenBinaryOp, Value: op, Pos: start}, nil
		}
	}
	return Token{}, Errorf(ErrorCodeParse, "unexpected character: %c", ch)
}

// scanNumber reads digits with an optional fraction and exponent. An "e"
// without digits after it is left for the next token.
func (l *Lexer) scanNumber() Token {
	start := l.pos
	l.skipDigits()
	if l.at(0) == '.' && isDigit(l.at(1)) {
		l.pos++
		l.skipDigits()
	}
	if e := l.at(0); e == 'e' || e == 'E' {
		n := 1
		if s := l.at(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(l.at(n)) {
			l.pos += n
			l.skipDigits()
		}
	}
	return Token{Type: TokenNumber, Value: string(l.src[start:l.pos]), Pos: start}
}

// scanString reads a double-quoted literal; "" inside it is one quote.
func (l *Lexer) scanString() (Token, error) {
	start := l.pos
	var sb strings.Builder
	for l.pos++; l.pos < len(l.src); l.pos++ {
		ch := l.src[l.pos]
		if ch != '"' {
			sb.WriteRune(ch)
			continue
		}
		if l.at(1) != '"' {
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}, nil
		}
		sb.WriteRune('"')
		l.pos++
	}
	return Token{}, NewFormulaError(ErrorCodeParse, "unclosed string literal")
}

// scanName reads an identifier, a dotted reference (table.column), an
// include reference (@alias.name), a boolean or a function name. Function
// names may contain dots (VAR.S); a name directly followed by '(' is a
// function.
func (l *Lexer) scanName() (Token, error) {
	start := l.pos
	include := l.src[l.pos] == '@'
	if include {
		l.pos++
		if c := l.at(0); c != '_' && !isLetter(c) {
			return Token{}, NewFormulaError(ErrorCodeParse, "expected include alias after '@'")
		}
	}
	l.skipName()
	for l.at(0) == '.' && isNameChar(l.at(1)) {
		l.pos++
		l.skipName()
	}

	text := string(l.src[start:l.pos])
	upper := strings.ToUpper(text)
	switch {
	case l.at(0) == '(' && !include:
		return Token{Type: TokenFunction, Value: upper, Pos: start}, nil
	case upper == "TRUE", upper == "FALSE":
		return Token{Type: TokenBoolean, Value: upper, Pos: start}, nil
	}
	return Token{Type: TokenIdentifier, Value: text, Pos: start}, nil
}

// at returns the rune offset places ahead, or 0 past the end.
func (l *Lexer) at(offset int) rune {
	if i := l.pos + offset; i >= 0 && i < len(l.src) {
		return l.src[i]
	}
	return 0
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
}

func (l *Lexer) skipDigits() {
	for isDigit(l.at(0)) {
		l.pos++
	}
}

func (l *Lexer) skipName() {
	for isNameChar(l.at(0)) {
		l.pos++
	}
}

func isDigit(ch rune) bool { return '0' <= ch && ch <= '9' }

func isLetter(ch rune) bool { return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') }

func isNameChar(ch rune) bool { return isLetter(ch) || isDigit(ch) || ch == '_' }
