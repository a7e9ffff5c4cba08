package engine

import (
	"math"
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
)

// Eval evaluates a node in ctx. Inside a row formula, column references
// yield the element of the current row; otherwise whole arrays.
func Eval(node formula.ASTNode, ctx *EvalContext) (formula.Value, error) {
	if ctx.budget != nil {
		if err := ctx.budget.step(); err != nil {
			return formula.Null, err
		}
	}

	switch n := node.(type) {
	case *formula.LiteralNode:
		return n.Value, nil
	case *formula.ScalarRefNode:
		return evalScalarRef(n, ctx)
	case *formula.ColumnRefNode:
		return evalColumnRef(n, ctx)
	case *formula.IndexedRefNode:
		return evalIndexedRef(n, ctx)
	case *formula.BinaryOpNode:
		left, err := Eval(n.Left, ctx)
		if err != nil {
			return formula.Null, err
		}
		right, err := Eval(n.Right, ctx)
		if err != nil {
			return formula.Null, err
		}
		return applyBinary(n.Op, left, right)
	case *formula.UnaryOpNode:
		operand, err := Eval(n.Operand, ctx)
		if err != nil {
			return formula.Null, err
		}
		return applyUnary(n.Op, operand)
	case *formula.FunctionCallNode:
		return callFunction(n, ctx)
	case *formula.CallNode:
		return evalCall(n, ctx)
	}
	return formula.Null, formula.NewApplicationError(formula.Internal, "unknown node type")
}

// EvalAsScalar evaluates node with the current row cleared.
func EvalAsScalar(node formula.ASTNode, ctx *EvalContext) (formula.Value, error) {
	return Eval(node, ctx.whole())
}

// EvalInRow evaluates node positioned on one row of table.
func EvalInRow(node formula.ASTNode, ctx *EvalContext, table string, row int) (formula.Value, error) {
	return Eval(node, ctx.atRow(table, row))
}

func evalScalarRef(n *formula.ScalarRefNode, ctx *EvalContext) (formula.Value, error) {
	if v, ok := ctx.locals[n.Name]; ok {
		return v, nil
	}
	if n.IsInclude() {
		if v, ok := ctx.Scalars[n.Name]; ok {
			return v, nil
		}
		return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Unknown include reference: %s", n.Name)
	}
	if ctx.table != "" {
		if col, ok := ctx.Tables[ctx.table][n.Name]; ok {
			return columnValue(ctx, ctx.table, n.Name, col)
		}
	}
	v, ok := ctx.Scalars[n.Name]
	if !ok {
		return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Unknown variable: %s", n.Name)
	}
	if ctx.inRow && v.IsArray() {
		elems := v.Elements()
		if ctx.row >= len(elems) {
			return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Row %d out of bounds for %s", ctx.row, n.Name)
		}
		return elems[ctx.row], nil
	}
	return v, nil
}

func evalColumnRef(n *formula.ColumnRefNode, ctx *EvalContext) (formula.Value, error) {
	// section scalars such as thresholds.min share the dotted syntax
	if v, ok := ctx.Scalars[n.QualifiedName()]; ok {
		return v, nil
	}
	cols, ok := ctx.Tables[n.Table]
	if !ok {
		return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Unknown table: %s", n.Table)
	}
	col, ok := cols[n.Column]
	if !ok {
		return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Unknown column: %s", n.QualifiedName())
	}
	return columnValue(ctx, n.Table, n.Column, col)
}

func columnValue(ctx *EvalContext, table, column string, col []formula.Value) (formula.Value, error) {
	if !ctx.inRow {
		return formula.Array(col), nil
	}
	if len(col) != ctx.rowCount {
		return formula.Null, formula.Errorf(formula.ErrorCodeRef,
			"Row count mismatch: %s.%s has %d rows but expected %d", table, column, len(col), ctx.rowCount)
	}
	return col[ctx.row], nil
}

func evalIndexedRef(n *formula.IndexedRefNode, ctx *EvalContext) (formula.Value, error) {
	idxVal, err := Eval(n.Index, ctx)
	if err != nil {
		return formula.Null, err
	}
	idx, ok := idxVal.AsNumber()
	if !ok || idxVal.IsArray() {
		return formula.Null, formula.Errorf(formula.ErrorCodeValue, "Array index must be a number")
	}

	var col []formula.Value
	if v, ok := ctx.Scalars[n.Table+"."+n.Column]; ok && v.IsArray() {
		col = v.Elements()
	} else {
		cols, ok := ctx.Tables[n.Table]
		if !ok {
			return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Unknown table: %s", n.Table)
		}
		if col, ok = cols[n.Column]; !ok {
			return formula.Null, formula.Errorf(formula.ErrorCodeRef, "Unknown column: %s.%s", n.Table, n.Column)
		}
	}

	i := int(idx)
	if idx < 0 || i >= len(col) {
		return formula.Null, formula.Errorf(formula.ErrorCodeRef, "index %s out of bounds for %s.%s (%d rows)",
			formula.FormatNumber(idx), n.Table, n.Column, len(col))
	}
	return col[i], nil
}

func evalCall(n *formula.CallNode, ctx *EvalContext) (formula.Value, error) {
	callee, err := Eval(n.Callee, ctx)
	if err != nil {
		return formula.Null, err
	}
	if callee.Kind() != formula.KindLambda {
		return formula.Null, formula.Errorf(formula.ErrorCodeValue, "Cannot call non-lambda value")
	}
	args := make([]formula.Value, len(n.Args))
	for i, arg := range n.Args {
		if args[i], err = Eval(arg, ctx); err != nil {
			return formula.Null, err
		}
	}
	return invokeLambda(callee.Lambda(), args, ctx)
}

func invokeLambda(l *formula.Lambda, args []formula.Value, ctx *EvalContext) (formula.Value, error) {
	if len(args) != len(l.Params) {
		return formula.Null, formula.Errorf(formula.ErrorCodeArity,
			"Lambda expects %d arguments, got %d", len(l.Params), len(args))
	}
	return Eval(l.Body, ctx.bind(l.Params, args))
}

// broadcast applies op elementwise when either side is an array.
func broadcast(left, right formula.Value, op func(l, r formula.Value) (formula.Value, error)) (formula.Value, error) {
	switch {
	case left.IsArray() && right.IsArray():
		le, re := left.Elements(), right.Elements()
		if len(le) != len(re) {
			return formula.Null, formula.Errorf(formula.ErrorCodeValue,
				"Array length mismatch: %d vs %d", len(le), len(re))
		}
		out := make([]formula.Value, len(le))
		for i := range le {
			v, err := broadcast(le[i], re[i], op)
			if err != nil {
				return formula.Null, err
			}
			out[i] = v
		}
		return formula.Array(out), nil
	case left.IsArray():
		out := make([]formula.Value, left.Len())
		for i, e := range left.Elements() {
			v, err := broadcast(e, right, op)
			if err != nil {
				return formula.Null, err
			}
			out[i] = v
		}
		return formula.Array(out), nil
	case right.IsArray():
		out := make([]formula.Value, right.Len())
		for i, e := range right.Elements() {
			v, err := broadcast(left, e, op)
			if err != nil {
				return formula.Null, err
			}
			out[i] = v
		}
		return formula.Array(out), nil
	}
	return op(left, right)
}

func operands(left, right formula.Value) (float64, float64, error) {
	l, ok := left.AsNumber()
	if !ok {
		return 0, 0, formula.NewFormulaError(formula.ErrorCodeValue, "Left operand must be a number")
	}
	r, ok := right.AsNumber()
	if !ok {
		return 0, 0, formula.NewFormulaError(formula.ErrorCodeValue, "Right operand must be a number")
	}
	return l, r, nil
}

func applyBinary(op formula.BinaryOp, left, right formula.Value) (formula.Value, error) {
	switch op {
	case formula.BinOpEqual:
		return formula.Boolean(formula.Equal(left, right)), nil
	case formula.BinOpNotEqual:
		return formula.Boolean(!formula.Equal(left, right)), nil
	}
	return broadcast(left, right, func(l, r formula.Value) (formula.Value, error) {
		return applyScalarBinary(op, l, r)
	})
}

func applyScalarBinary(op formula.BinaryOp, left, right formula.Value) (formula.Value, error) {
	switch op {
	case formula.BinOpConcat:
		return formula.Text(left.AsText() + right.AsText()), nil
	case formula.BinOpAdd:
		if left.IsText() || right.IsText() {
			return formula.Text(left.AsText() + right.AsText()), nil
		}
	case formula.BinOpLess, formula.BinOpLessEqual, formula.BinOpGreater, formula.BinOpGreaterEqual:
		if left.IsText() && right.IsText() {
			if _, lok := left.AsNumber(); !lok {
				cmp := strings.Compare(strings.ToLower(left.Str()), strings.ToLower(right.Str()))
				return formula.Boolean(compare(op, float64(cmp), 0)), nil
			}
		}
	}

	l, r, err := operands(left, right)
	if err != nil {
		return formula.Null, err
	}

	switch op {
	case formula.BinOpAdd:
		return formula.Number(l + r), nil
	case formula.BinOpSubtract:
		return formula.Number(l - r), nil
	case formula.BinOpMultiply:
		return formula.Number(l * r), nil
	case formula.BinOpDivide:
		if r == 0 {
			return formula.Null, formula.NewFormulaError(formula.ErrorCodeDiv0, "Division by zero")
		}
		return formula.Number(l / r), nil
	case formula.BinOpPower:
		p := math.Pow(l, r)
		if math.IsNaN(p) {
			return formula.Null, formula.Errorf(formula.ErrorCodeNum, "%s^%s is not a real number",
				formula.FormatNumber(l), formula.FormatNumber(r))
		}
		return formula.Number(p), nil
	case formula.BinOpLess, formula.BinOpLessEqual, formula.BinOpGreater, formula.BinOpGreaterEqual:
		return formula.Boolean(compare(op, l, r)), nil
	}
	return formula.Null, formula.Errorf(formula.ErrorCodeValue, "Unknown operator: %s", op)
}

func compare(op formula.BinaryOp, l, r float64) bool {
	switch op {
	case formula.BinOpLess:
		return l < r
	case formula.BinOpLessEqual:
		return l <= r
	case formula.BinOpGreater:
		return l > r
	case formula.BinOpGreaterEqual:
		return l >= r
	}
	return false
}

func applyUnary(op formula.UnaryOp, operand formula.Value) (formula.Value, error) {
	if operand.IsArray() {
		out := make([]formula.Value, operand.Len())
		for i, e := range operand.Elements() {
			v, err := applyUnary(op, e)
			if err != nil {
				return formula.Null, err
			}
			out[i] = v
		}
		return formula.Array(out), nil
	}
	n, ok := operand.AsNumber()
	if !ok {
		return formula.Null, formula.NewFormulaError(formula.ErrorCodeValue, "Operand must be a number")
	}
	switch op {
	case formula.UnaryOpMinus:
		return formula.Number(-n), nil
	case formula.UnaryOpPercent:
		return formula.Number(n / 100), nil
	}
	return formula.Number(n), nil
}
