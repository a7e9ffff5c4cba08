package formula

import (
	"fmt"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a parsed formula. Nodes are immutable once parsed, so one tree
// is shared by every row a row formula is evaluated for. Evaluation lives
// in the engine; the tree only knows its position and normalized text.
type ASTNode interface {
	GetPosition() NodePosition
	ToString() string
}

// LiteralNode is a number, string or boolean literal
type LiteralNode struct {
	Value    Value
	Position NodePosition
}

func (n *LiteralNode) GetPosition() NodePosition {
	return n.Position
}

func (n *LiteralNode) ToString() string {
	switch n.Value.Kind() {
	case KindText:
		return `"` + strings.ReplaceAll(n.Value.Str(), `"`, `""`) + `"`
	case KindNumber:
		return strconv.FormatFloat(n.Value.Float(), 'g', -1, 64)
	}
	return n.Value.AsText()
}

// ScalarRefNode references a scalar by bare name. Include references keep
// their '@alias.' prefix in Name.
type ScalarRefNode struct {
	Name     string
	Position NodePosition
}

func (n *ScalarRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ScalarRefNode) ToString() string {
	return n.Name
}

// IsInclude reports whether the reference points into an included model.
func (n *ScalarRefNode) IsInclude() bool {
	return strings.HasPrefix(n.Name, "@")
}

// ColumnRefNode references table.column. A scalar section entry such as
// summary.total parses the same way.
type ColumnRefNode struct {
	Table    string
	Column   string
	Position NodePosition
}

func (n *ColumnRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *ColumnRefNode) ToString() string {
	return n.Table + "." + n.Column
}

// QualifiedName is the dotted form.
func (n *ColumnRefNode) QualifiedName() string {
	return n.Table + "." + n.Column
}

// IndexedRefNode references a single zero-based element table.column[i]
type IndexedRefNode struct {
	Table    string
	Column   string
	Index    ASTNode
	Position NodePosition
}

func (n *IndexedRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *IndexedRefNode) ToString() string {
	return fmt.Sprintf("%s.%s[%s]", n.Table, n.Column, n.Index.ToString())
}

// BinaryOp is an infix operator.
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp is a prefix sign or the postfix percent.
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), n.Op, n.Right.ToString())
}

func (op BinaryOp) String() string {
	switch op {
	case BinOpAdd:
		return "+"
	case BinOpSubtract:
		return "-"
	case BinOpMultiply:
		return "*"
	case BinOpDivide:
		return "/"
	case BinOpPower:
		return "^"
	case BinOpConcat:
		return "&"
	case BinOpEqual:
		return "="
	case BinOpNotEqual:
		return "<>"
	case BinOpLess:
		return "<"
	case BinOpLessEqual:
		return "<="
	case BinOpGreater:
		return ">"
	case BinOpGreaterEqual:
		return ">="
	}
	return "?"
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpPlus:
		return "+" + n.Operand.ToString()
	case UnaryOpPercent:
		return fmt.Sprintf("(%s%%)", n.Operand.ToString())
	}
	return "-" + n.Operand.ToString()
}

// FunctionCallNode represents a function call. Name is upper case.
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	return n.Name + "(" + joinNodes(n.Args) + ")"
}

// CallNode invokes the lambda produced by Callee, e.g. LAMBDA(x, x*2)(5)
type CallNode struct {
	Callee   ASTNode
	Args     []ASTNode
	Position NodePosition
}

func (n *CallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *CallNode) ToString() string {
	return n.Callee.ToString() + "(" + joinNodes(n.Args) + ")"
}

func joinNodes(nodes []ASTNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.ToString()
	}
	return strings.Join(parts, ",")
}

// Inspect traverses the tree depth-first, calling fn for each node. When fn
// returns false the children of that node are skipped.
func Inspect(node ASTNode, fn func(ASTNode) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *IndexedRefNode:
		Inspect(n.Index, fn)
	case *BinaryOpNode:
		Inspect(n.Left, fn)
		Inspect(n.Right, fn)
	case *UnaryOpNode:
		Inspect(n.Operand, fn)
	case *FunctionCallNode:
		for _, arg := range n.Args {
			Inspect(arg, fn)
		}
	case *CallNode:
		Inspect(n.Callee, fn)
		for _, arg := range n.Args {
			Inspect(arg, fn)
		}
	}
}
