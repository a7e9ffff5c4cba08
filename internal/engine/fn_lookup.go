package engine

import (
	"strconv"
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
)

func registerLookup(r registrar) {
	r.add(CategoryLookup,
		def("INDEX", "INDEX(array, row_num, [column_num])", 2, 3, fnIndex),
		def("MATCH", "MATCH(lookup_value, lookup_array, [match_type])", 2, 3, fnMatch),
		def("CHOOSE", "CHOOSE(index, value1, ...)", 2, -1, fnChoose),
		def("VLOOKUP", "VLOOKUP(lookup_value, table_array, col_index, [range_lookup])", 3, 4, rangeLookup("col_index")),
		def("HLOOKUP", "HLOOKUP(lookup_value, table_array, row_index, [range_lookup])", 3, 4, rangeLookup("row_index")),
		def("XLOOKUP", "XLOOKUP(lookup_value, lookup_array, return_array, [if_not_found], [match_mode], [search_mode])", 3, 6, fnXLookup),
		def("OFFSET", "OFFSET(reference, rows, cols, [height], [width])", 3, 5, fnOffset),
		def("INDIRECT", "INDIRECT(ref_text)", 1, 1, fnIndirect),
		def("ADDRESS", "ADDRESS(row, column, [abs_num], [a1], [sheet])", 2, 5, fnAddress),
		def("ROW", "ROW([reference])", 0, 1, fnRow),
		def("COLUMN", "COLUMN([reference])", 0, 1, fnColumn),
		def("ROWS", "ROWS(array)", 1, 1, fnRows),
		def("COLUMNS", "COLUMNS(array)", 1, 1, fnColumns),
	)
}

// wholeArray evaluates argument i with the row cleared and requires an
// Array result.
func (c *Call) wholeArray(i int, what string) ([]formula.Value, error) {
	v, err := c.EvalWhole(i)
	if err != nil {
		return nil, err
	}
	if !v.IsArray() {
		return nil, c.errorf(formula.ErrorCodeValue, "%s must be an array", what)
	}
	return v.Elements(), nil
}

// closest returns the index of the nearest numeric element on one side of
// target: the largest value <= target when below is set, otherwise the
// smallest value >= target. Non-numeric elements are skipped.
func closest(values []formula.Value, target float64, below bool) (int, bool) {
	best, found := -1, false
	var bestVal float64
	for i, v := range values {
		n, ok := v.AsNumber()
		if !ok || v.IsArray() {
			continue
		}
		if below && n <= target && (!found || n > bestVal) ||
			!below && n >= target && (!found || n < bestVal) {
			best, bestVal, found = i, n, true
		}
	}
	return best, found
}

func exactIndex(values []formula.Value, target formula.Value) (int, bool) {
	for i, v := range values {
		if formula.Equal(v, target) {
			return i, true
		}
	}
	return -1, false
}

func fnIndex(c *Call) (formula.Value, error) {
	values, err := c.wholeArray(0, "array")
	if err != nil {
		return formula.Null, err
	}
	row, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	if row < 1 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "row_num %d must be >= 1", row)
	}
	if row > len(values) {
		return formula.Null, c.errorf(formula.ErrorCodeRef, "row %d out of bounds", row)
	}
	return values[row-1], nil
}

// fnMatch returns the 1-based position of lookup_value. match_type 0 is
// exact, 1 the largest value <= lookup_value, -1 the smallest value >= it.
func fnMatch(c *Call) (formula.Value, error) {
	target, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	values, err := c.wholeArray(1, "lookup_array")
	if err != nil {
		return formula.Null, err
	}
	mode, err := c.IntOr(2, 1)
	if err != nil {
		return formula.Null, err
	}

	var (
		idx   int
		found bool
	)
	switch mode {
	case 0:
		idx, found = exactIndex(values, target)
	case 1:
		if n, ok := target.AsNumber(); ok {
			idx, found = closest(values, n, true)
		} else {
			idx, found = exactIndex(values, formula.Text(target.AsText()))
		}
	case -1:
		if n, ok := target.AsNumber(); ok {
			idx, found = closest(values, n, false)
		}
	default:
		return formula.Null, c.errorf(formula.ErrorCodeValue, "invalid match_type %d", mode)
	}
	if !found {
		return formula.Null, c.errorf(formula.ErrorCodeNA, "value not found")
	}
	return formula.Number(float64(idx + 1)), nil
}

func fnChoose(c *Call) (formula.Value, error) {
	idx, err := c.Int(0)
	if err != nil {
		return formula.Null, err
	}
	if idx < 1 || idx >= len(c.Args) {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "index %d out of range", idx)
	}
	return c.Eval(idx)
}

// rangeLookup implements VLOOKUP and HLOOKUP over a single column. Columns
// are one-dimensional, so the index argument is validated but the matched
// element itself is returned. Approximate matching (the default) picks the
// largest value <= lookup_value.
func rangeLookup(indexName string) Handler {
	return func(c *Call) (formula.Value, error) {
		target, err := c.Eval(0)
		if err != nil {
			return formula.Null, err
		}
		values, err := c.wholeArray(1, "table_array")
		if err != nil {
			return formula.Null, err
		}
		index, err := c.Int(2)
		if err != nil {
			return formula.Null, err
		}
		if index < 1 {
			return formula.Null, c.errorf(formula.ErrorCodeValue, "%s must be >= 1", indexName)
		}
		approximate := true
		if c.Has(3) {
			v, err := c.Eval(3)
			if err != nil {
				return formula.Null, err
			}
			approximate = v.IsTruthy()
		}

		var (
			idx   int
			found bool
		)
		if approximate {
			if n, ok := target.AsNumber(); ok {
				idx, found = closest(values, n, true)
			}
		} else {
			idx, found = exactIndex(values, target)
		}
		if !found {
			return formula.Null, c.errorf(formula.ErrorCodeNA, "value not found")
		}
		return values[idx], nil
	}
}

// fnXLookup supports match_mode 0 (exact), -1 (exact or next smaller) and
// 1 (exact or next larger). Without if_not_found a miss is an error.
func fnXLookup(c *Call) (formula.Value, error) {
	target, err := c.Eval(0)
	if err != nil {
		return formula.Null, err
	}
	keys, err := c.wholeArray(1, "lookup_array")
	if err != nil {
		return formula.Null, err
	}
	results, err := c.wholeArray(2, "return_array")
	if err != nil {
		return formula.Null, err
	}
	if len(keys) != len(results) {
		return formula.Null, c.errorf(formula.ErrorCodeValue,
			"lookup_array (%d) and return_array (%d) must have same length", len(keys), len(results))
	}
	mode, err := c.IntOr(4, 0)
	if err != nil {
		return formula.Null, err
	}
	if mode < -1 || mode > 1 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "invalid match_mode %d", mode)
	}

	idx, found := exactIndex(keys, target)
	if !found && mode != 0 {
		if n, ok := target.AsNumber(); ok {
			idx, found = closest(keys, n, mode == -1)
		}
	}
	if found {
		return results[idx], nil
	}
	if c.Has(3) {
		return c.Eval(3)
	}
	return formula.Null, c.errorf(formula.ErrorCodeNA, "No match found")
}

func fnOffset(c *Call) (formula.Value, error) {
	base, err := c.EvalWhole(0)
	if err != nil {
		return formula.Null, err
	}
	rows, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	cols, err := c.Int(2)
	if err != nil {
		return formula.Null, err
	}
	if !base.IsArray() {
		if rows == 0 && cols == 0 {
			return base, nil
		}
		return formula.Null, c.errorf(formula.ErrorCodeRef, "cannot offset scalar")
	}
	if cols != 0 {
		return formula.Null, c.errorf(formula.ErrorCodeRef, "column offset %d out of bounds", cols)
	}
	values := base.Elements()
	if rows < 0 || rows >= len(values) {
		return formula.Null, c.errorf(formula.ErrorCodeRef, "row %d out of bounds (%d rows)", rows, len(values))
	}
	height, err := c.IntOr(3, 1)
	if err != nil {
		return formula.Null, err
	}
	if height <= 1 {
		return values[rows], nil
	}
	if rows+height > len(values) {
		return formula.Null, c.errorf(formula.ErrorCodeRef, "height %d out of bounds (%d rows)", height, len(values))
	}
	return formula.Array(values[rows : rows+height]), nil
}

// fnIndirect resolves a scalar name or table.column at evaluation time.
func fnIndirect(c *Call) (formula.Value, error) {
	ref, err := c.Text(0)
	if err != nil {
		return formula.Null, err
	}
	ref = strings.TrimSpace(ref)
	ctx := c.Context()
	if v, ok := ctx.Scalars[ref]; ok {
		return v, nil
	}
	if table, column, ok := strings.Cut(ref, "."); ok {
		if col, ok := ctx.Tables[table][column]; ok {
			return formula.Array(col), nil
		}
	}
	return formula.Null, c.errorf(formula.ErrorCodeRef, "cannot resolve '%s'", ref)
}

// columnLetters converts a 1-based column number to A, B, ..., Z, AA, ...
func columnLetters(col int) string {
	var out []byte
	for n := col; n > 0; n /= 26 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
	}
	return string(out)
}

func fnAddress(c *Call) (formula.Value, error) {
	row, err := c.Int(0)
	if err != nil {
		return formula.Null, err
	}
	col, err := c.Int(1)
	if err != nil {
		return formula.Null, err
	}
	abs, err := c.IntOr(2, 1)
	if err != nil {
		return formula.Null, err
	}
	a1 := true
	if c.Has(3) {
		v, err := c.Eval(3)
		if err != nil {
			return formula.Null, err
		}
		a1 = v.IsTruthy()
	}
	if row < 1 || row > 1048576 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "row out of range")
	}
	if col < 1 || col > 16384 {
		return formula.Null, c.errorf(formula.ErrorCodeValue, "column out of range")
	}

	r, k := strconv.Itoa(row), strconv.Itoa(col)
	var address string
	if a1 {
		letters := columnLetters(col)
		switch abs {
		case 2:
			address = letters + "$" + r
		case 3:
			address = "$" + letters + r
		case 4:
			address = letters + r
		default:
			address = "$" + letters + "$" + r
		}
	} else {
		switch abs {
		case 2:
			address = "R" + r + "C[" + k + "]"
		case 3:
			address = "R[" + r + "]C" + k
		case 4:
			address = "R[" + r + "]C[" + k + "]"
		default:
			address = "R" + r + "C" + k
		}
	}
	if c.Has(4) {
		sheet, err := c.Text(4)
		if err != nil {
			return formula.Null, err
		}
		address = sheet + "!" + address
	}
	return formula.Text(address), nil
}

// fnRow returns the 1-based current row, or 1 outside a row formula.
func fnRow(c *Call) (formula.Value, error) {
	if row, ok := c.Context().CurrentRow(); ok && !c.Has(0) {
		return formula.Number(float64(row + 1)), nil
	}
	return formula.Number(1), nil
}

// fnColumn always returns 1: a column reference is one column wide.
func fnColumn(*Call) (formula.Value, error) {
	return formula.Number(1), nil
}

// tableArg returns the table a bare identifier argument names, if any.
func (c *Call) tableArg(i int) (map[string][]formula.Value, bool) {
	ref, ok := c.Args[i].(*formula.ScalarRefNode)
	if !ok {
		return nil, false
	}
	if _, shadowed := c.Context().Scalars[ref.Name]; shadowed {
		return nil, false
	}
	cols, ok := c.Context().Tables[ref.Name]
	return cols, ok
}

func fnRows(c *Call) (formula.Value, error) {
	if cols, ok := c.tableArg(0); ok {
		for _, values := range cols {
			return formula.Number(float64(len(values))), nil
		}
		return formula.Number(0), nil
	}
	v, err := c.EvalWhole(0)
	if err != nil {
		return formula.Null, err
	}
	if v.IsArray() {
		return formula.Number(float64(v.Len())), nil
	}
	return formula.Number(1), nil
}

func fnColumns(c *Call) (formula.Value, error) {
	if cols, ok := c.tableArg(0); ok {
		return formula.Number(float64(len(cols))), nil
	}
	if _, err := c.EvalWhole(0); err != nil {
		return formula.Null, err
	}
	return formula.Number(1), nil
}
