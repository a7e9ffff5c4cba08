package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a new parser with the given tokens
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse tokenizes and parses formula text. The leading '=' is optional.
func Parse(text string) (ASTNode, error) {
	tokens, err := NewLexer(strings.TrimSpace(text)).Tokenize()
	if err != nil {
		return nil, Errorf(ErrorCodeParse, "parse error in %q: %s", text, err.Error())
	}
	node, err := NewParser(tokens).Parse()
	if err != nil {
		return nil, Errorf(ErrorCodeParse, "parse error in %q: %s", text, err.Error())
	}
	return node, nil
}

// Parse parses the token stream into a single expression
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 {
		return nil, NewFormulaError(ErrorCodeParse, "no tokens to parse")
	}

	// skip the equals prefix
	if p.tokens[p.pos].Type == TokenEquals {
		p.pos++
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if p.peek().Type != TokenEOF {
		return nil, Errorf(ErrorCodeParse, "unexpected token after expression: %s", p.peek().Value)
	}

	return node, nil
}

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) binary(op BinaryOp, left, right ASTNode) ASTNode {
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

var comparisonOps = map[string]BinaryOp{
	"=":  BinOpEqual,
	"<>": BinOpNotEqual,
	"!=": BinOpNotEqual,
	"<":  BinOpLess,
	"<=": BinOpLessEqual,
	">":  BinOpGreater,
	">=": BinOpGreaterEqual,
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		op, ok := comparisonOps[tok.Value]
		if tok.Type != TokenBinaryOp || !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp && p.peek().Value == "&" {
		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = p.binary(BinOpConcat, left, right)
	}

	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}

	return left, nil
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp {
		var op BinaryOp
		switch p.peek().Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = p.binary(op, left, right)
	}

	return left, nil
}

// parseUnary handles prefix operators. They bind looser than '^', so
// -2^2 is -(2^2).
func (p *Parser) parseUnary() (ASTNode, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePower()
	}

	op := UnaryOpMinus
	if tok.Value == "+" {
		op = UnaryOpPlus
	}

	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}

	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}

	// right-associative, and the exponent may carry its own sign
	if p.peek().Type == TokenBinaryOp && p.peek().Value == "^" {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return p.binary(BinOpPower, left, right), nil
	}

	return left, nil
}

// parsePostfix handles postfix percent and lambda invocation
func (p *Parser) parsePostfix() (ASTNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		switch {
		case tok.Type == TokenUnaryPostfixOp:
			p.pos++
			node = &UnaryOpNode{
				Op:       UnaryOpPercent,
				Operand:  node,
				Position: NodePosition{Start: node.GetPosition().Start, End: tok.Pos + 1},
			}
		case tok.Type == TokenLeftParen:
			args, end, err := p.parseArguments()
			if err != nil {
				return nil, err
			}
			node = &CallNode{
				Callee:   node,
				Args:     args,
				Position: NodePosition{Start: node.GetPosition().Start, End: end},
			}
		default:
			return node, nil
		}
	}
}

// parsePrimary handles literals, references, functions and parentheses
func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, Errorf(ErrorCodeParse, "invalid number: %s", tok.Value)
		}
		return &LiteralNode{
			Value:    Number(val),
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + utf8.RuneCountInString(tok.Value)},
		}, nil

	case TokenString:
		p.pos++
		return &LiteralNode{
			Value:    Text(tok.Value),
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + stringLiteralWidth(tok.Value)},
		}, nil

	case TokenBoolean:
		p.pos++
		return &LiteralNode{
			Value:    Boolean(tok.Value == "TRUE"),
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + utf8.RuneCountInString(tok.Value)},
		}, nil

	case TokenIdentifier:
		p.pos++
		return p.parseReference(tok)

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, NewFormulaError(ErrorCodeParse, "expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, NewFormulaError(ErrorCodeParse, "unexpected end of expression")
	}

	return nil, Errorf(ErrorCodeParse, "unexpected token: %s", tok.Value)
}

// parseReference turns an identifier into a scalar, column or indexed
// reference
func (p *Parser) parseReference(tok Token) (ASTNode, error) {
	pos := NodePosition{Start: tok.Pos, End: tok.Pos + utf8.RuneCountInString(tok.Value)}
	parts := strings.Split(tok.Value, ".")

	if strings.HasPrefix(tok.Value, "@") {
		if len(parts) != 2 {
			return nil, Errorf(ErrorCodeParse, "invalid include reference '%s': expected @alias.name", tok.Value)
		}
		if p.peek().Type == TokenLeftBracket {
			return nil, Errorf(ErrorCodeParse, "include reference '%s' cannot be indexed", tok.Value)
		}
		return &ScalarRefNode{Name: tok.Value, Position: pos}, nil
	}

	switch len(parts) {
	case 1:
		if p.peek().Type == TokenLeftBracket {
			return nil, Errorf(ErrorCodeParse, "index on '%s' requires a table.column reference", tok.Value)
		}
		return &ScalarRefNode{Name: tok.Value, Position: pos}, nil
	case 2:
	default:
		return nil, Errorf(ErrorCodeParse, "invalid reference '%s': expected at most one dot", tok.Value)
	}

	if p.peek().Type != TokenLeftBracket {
		return &ColumnRefNode{Table: parts[0], Column: parts[1], Position: pos}, nil
	}

	p.pos++ // consume '['
	index, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenRightBracket {
		return nil, NewFormulaError(ErrorCodeParse, "expected closing bracket")
	}
	end := p.peek().Pos + 1
	p.pos++

	return &IndexedRefNode{
		Table:    parts[0],
		Column:   parts[1],
		Index:    index,
		Position: NodePosition{Start: tok.Pos, End: end},
	}, nil
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.peek()
	p.pos++

	args, end, err := p.parseArguments()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", funcTok.Value, err)
	}

	return &FunctionCallNode{
		Name:     funcTok.Value,
		Args:     args,
		Position: NodePosition{Start: funcTok.Pos, End: end},
	}, nil
}

// parseArguments parses a parenthesized, comma separated argument list and
// returns the end position after the closing parenthesis
func (p *Parser) parseArguments() ([]ASTNode, int, error) {
	if p.peek().Type != TokenLeftParen {
		return nil, 0, NewFormulaError(ErrorCodeParse, "expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}

	// empty argument list
	if tok := p.peek(); tok.Type == TokenRightParen {
		p.pos++
		return args, tok.Pos + 1, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, 0, err
		}
		args = append(args, arg)

		tok := p.peek()
		switch tok.Type {
		case TokenRightParen:
			p.pos++
			return args, tok.Pos + 1, nil
		case TokenComma:
			p.pos++
		case TokenEOF:
			return nil, 0, NewFormulaError(ErrorCodeParse, "unexpected end in function arguments")
		default:
			return nil, 0, NewFormulaError(ErrorCodeParse, "expected ',' or ')' in function arguments")
		}
	}
}

// stringLiteralWidth is the width in runes of the quoted source of s:
// both quotes and a doubled quote for each one inside.
func stringLiteralWidth(s string) int {
	return utf8.RuneCountInString(s) + strings.Count(s, `"`) + 2
}
