package engine

import (
	"strings"

	"github.com/mollendorff-ai/forge/internal/formula"
)

// ASTKey is the normalized text of a parsed formula. Two formulas that
// differ only in whitespace or redundant parentheses share a key.
type ASTKey string

// FormulaID identifies an interned formula. Zero means no formula.
type FormulaID uint32

// FormulaTable parses each formula text once and interns the result by
// normalized AST, so a row formula is parsed once for all its rows and
// identical formulas across the model share one tree.
type FormulaTable struct {
	textIndex map[string]FormulaID // raw formula text -> formula ID
	astIndex  map[ASTKey]FormulaID // normalized AST -> formula ID
	astCache  map[FormulaID]formula.ASTNode
	refCounts map[FormulaID]int

	nextID FormulaID
}

func NewFormulaTable() *FormulaTable {
	return &FormulaTable{
		textIndex: make(map[string]FormulaID),
		astIndex:  make(map[ASTKey]FormulaID),
		astCache:  make(map[FormulaID]formula.ASTNode),
		refCounts: make(map[FormulaID]int),
		nextID:    1,
	}
}

func normalizeAST(ast formula.ASTNode) ASTKey {
	if ast == nil {
		return ""
	}
	return ASTKey(ast.ToString())
}

// Intern parses text, or returns the cached tree for text already seen.
func (ft *FormulaTable) Intern(text string) (FormulaID, formula.ASTNode, error) {
	text = strings.TrimSpace(text)
	if id, ok := ft.textIndex[text]; ok {
		ft.refCounts[id]++
		return id, ft.astCache[id], nil
	}

	ast, err := formula.Parse(text)
	if err != nil {
		return 0, nil, err
	}

	key := normalizeAST(ast)
	if id, ok := ft.astIndex[key]; ok {
		ft.textIndex[text] = id
		ft.refCounts[id]++
		return id, ft.astCache[id], nil
	}

	id := ft.nextID
	ft.nextID++
	ft.textIndex[text] = id
	ft.astIndex[key] = id
	ft.astCache[id] = ast
	ft.refCounts[id] = 1
	return id, ast, nil
}

// GetAST retrieves the cached AST for a formula ID
func (ft *FormulaTable) GetAST(id FormulaID) (formula.ASTNode, bool) {
	ast, ok := ft.astCache[id]
	return ast, ok
}

// Count returns the number of unique formulas
func (ft *FormulaTable) Count() int {
	return len(ft.astIndex)
}

// TotalReferences is how many times Intern was called for a formula that
// parsed successfully.
func (ft *FormulaTable) TotalReferences() int {
	total := 0
	for _, n := range ft.refCounts {
		total += n
	}
	return total
}
