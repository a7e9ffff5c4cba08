package engine

import (
	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerAdvanced(r registrar) {
	r.add(CategoryAdvanced,
		def("LET", "LET(name1, value1, ..., calculation)", 3, -1, fnLet),
		def("LAMBDA", "LAMBDA([param, ...], body)", 1, -1, fnLambda),
	)
}

// bindingName returns the identifier a LET or LAMBDA argument declares.
func bindingName(node formula.ASTNode) (string, bool) {
	ref, ok := node.(*formula.ScalarRefNode)
	if !ok || ref.IsInclude() {
		return "", false
	}
	return ref.Name, true
}

// fnLet binds names left to right; each value sees the earlier bindings.
func fnLet(c *Call) (formula.Value, error) {
	if len(c.Args)%2 == 0 {
		return formula.Null, c.errorf(formula.ErrorCodeArity, "requires pairs of name/value plus a calculation")
	}
	ctx := c.ctx
	for i := 0; i+1 < len(c.Args); i += 2 {
		name, ok := bindingName(c.Args[i])
		if !ok {
			return formula.Null, c.errorf(formula.ErrorCodeValue, "variable name must be an identifier")
		}
		v, err := Eval(c.Args[i+1], ctx)
		if err != nil {
			return formula.Null, err
		}
		ctx = ctx.bind([]string{name}, []formula.Value{v})
	}
	return Eval(c.Args[len(c.Args)-1], ctx)
}

func fnLambda(c *Call) (formula.Value, error) {
	params := make([]string, 0, len(c.Args)-1)
	for i, arg := range c.Args[:len(c.Args)-1] {
		name, ok := bindingName(arg)
		if !ok {
			return formula.Null, c.errorf(formula.ErrorCodeValue, "parameter %d must be an identifier", i+1)
		}
		params = append(params, name)
	}
	return formula.LambdaValue(&formula.Lambda{Params: params, Body: c.Args[len(c.Args)-1]}), nil
}
