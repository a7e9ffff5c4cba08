// Package model holds the input and output shapes of a calculation: named
// scalars, tables of equal-length columns and scenarios.
package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/mollendorff-ai/forge/internal/formula"
)

// Metadata is descriptive information carried alongside a value.
type Metadata struct {
	Unit             string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Notes            string `json:"notes,omitempty" yaml:"notes,omitempty"`
	Source           string `json:"source,omitempty" yaml:"source,omitempty"`
	ValidationStatus string `json:"validation_status,omitempty" yaml:"validation_status,omitempty"`
	LastUpdated      string `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
}

func (m Metadata) IsEmpty() bool {
	return m == Metadata{}
}

// Variable is a named scalar. Value is Null when absent; a formula, when
// present, replaces the value after calculation.
type Variable struct {
	Name     string
	Value    formula.Value
	Formula  string
	Metadata Metadata
}

func NewVariable(name string, value formula.Value, formulaText string) *Variable {
	return &Variable{Name: name, Value: value, Formula: formulaText}
}

func (v *Variable) HasFormula() bool {
	return v.Formula != ""
}

// ColumnKind is the declared type of a column.
type ColumnKind uint8

const (
	ColumnNumber ColumnKind = iota
	ColumnText
	ColumnDate
	ColumnBoolean
)

func (k ColumnKind) String() string {
	switch k {
	case ColumnText:
		return "Text"
	case ColumnDate:
		return "Date"
	case ColumnBoolean:
		return "Boolean"
	}
	return "Number"
}

// KindOf maps a value to the column kind that can hold it.
func KindOf(v formula.Value) (ColumnKind, bool) {
	switch v.Kind() {
	case formula.KindNumber:
		return ColumnNumber, true
	case formula.KindText:
		return ColumnText, true
	case formula.KindDate:
		return ColumnDate, true
	case formula.KindBoolean:
		return ColumnBoolean, true
	}
	return 0, false
}

// Column is a named, typed sequence of values.
type Column struct {
	Name     string
	Kind     ColumnKind
	Values   []formula.Value
	Metadata Metadata
}

// NewColumn infers the column kind from its values. Nulls are allowed
// anywhere; every other value must share the kind of the first one.
func NewColumn(name string, values []formula.Value) (*Column, error) {
	col := &Column{Name: name, Values: values}
	seen := false
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		kind, ok := KindOf(v)
		if !ok {
			return nil, fmt.Errorf("column %s: row %d holds a %s, which a column cannot store", name, i, v.Kind())
		}
		if !seen {
			col.Kind, seen = kind, true
			continue
		}
		if kind != col.Kind {
			return nil, fmt.Errorf("column %s: row %d is %s but column is %s", name, i, kind, col.Kind)
		}
	}
	return col, nil
}

// NumberColumn builds a Number column.
func NumberColumn(name string, values ...float64) *Column {
	col := &Column{Name: name, Kind: ColumnNumber, Values: make([]formula.Value, len(values))}
	for i, n := range values {
		col.Values[i] = formula.Number(n)
	}
	return col
}

func (c *Column) Len() int {
	return len(c.Values)
}

func (c *Column) Clone() *Column {
	out := *c
	out.Values = slices.Clone(c.Values)
	return &out
}

// Table groups equal-length columns and the row formulas computed over them.
type Table struct {
	Name        string
	Columns     map[string]*Column
	RowFormulas map[string]string
}

func NewTable(name string) *Table {
	return &Table{
		Name:        name,
		Columns:     map[string]*Column{},
		RowFormulas: map[string]string{},
	}
}

// AddColumn adds a data column. The name must not collide with a row formula.
func (t *Table) AddColumn(col *Column) error {
	if _, exists := t.RowFormulas[col.Name]; exists {
		return fmt.Errorf("table %s: column %s collides with a row formula", t.Name, col.Name)
	}
	t.Columns[col.Name] = col
	return nil
}

// AddRowFormula declares a formula evaluated once per row. The name must
// not collide with a data column.
func (t *Table) AddRowFormula(name, formulaText string) error {
	if _, exists := t.Columns[name]; exists {
		return fmt.Errorf("table %s: row formula %s collides with a data column", t.Name, name)
	}
	t.RowFormulas[name] = formulaText
	return nil
}

// RowCount is the length shared by the data columns, 0 for a table with
// no data columns.
func (t *Table) RowCount() int {
	for _, name := range t.ColumnNames() {
		return t.Columns[name].Len()
	}
	return 0
}

// Validate checks that every data column has the same length.
func (t *Table) Validate() error {
	names := t.ColumnNames()
	if len(names) == 0 {
		return nil
	}
	first := t.Columns[names[0]]
	for _, name := range names[1:] {
		if n := t.Columns[name].Len(); n != first.Len() {
			return formula.NewApplicationError(formula.FailedPrecondition,
				fmt.Sprintf("table %s: column %s has %d rows but %s has %d", t.Name, name, n, first.Name, first.Len()))
		}
	}
	return nil
}

// ColumnNames returns the data column names in sorted order.
func (t *Table) ColumnNames() []string {
	return slices.Sorted(maps.Keys(t.Columns))
}

// RowFormulaNames returns the row formula names in sorted order.
func (t *Table) RowFormulaNames() []string {
	return slices.Sorted(maps.Keys(t.RowFormulas))
}

func (t *Table) Clone() *Table {
	out := NewTable(t.Name)
	for name, col := range t.Columns {
		out.Columns[name] = col.Clone()
	}
	maps.Copy(out.RowFormulas, t.RowFormulas)
	return out
}

// Scenario maps variable names to override numbers.
type Scenario map[string]float64

// ParsedModel is the unresolved input of a calculation.
type ParsedModel struct {
	Scalars   map[string]*Variable
	Tables    map[string]*Table
	Scenarios map[string]Scenario
	// Includes are other models reachable as @alias.name, read-only.
	Includes map[string]*ParsedModel
}

func NewParsedModel() *ParsedModel {
	return &ParsedModel{
		Scalars:   map[string]*Variable{},
		Tables:    map[string]*Table{},
		Scenarios: map[string]Scenario{},
		Includes:  map[string]*ParsedModel{},
	}
}

// AddScalar adds or replaces a scalar.
func (m *ParsedModel) AddScalar(v *Variable) {
	m.Scalars[v.Name] = v
}

// AddTable adds a table. Table names must be unique.
func (m *ParsedModel) AddTable(t *Table) error {
	if _, exists := m.Tables[t.Name]; exists {
		return formula.NewApplicationError(formula.AlreadyExists, fmt.Sprintf("table %s already exists", t.Name))
	}
	m.Tables[t.Name] = t
	return nil
}

// ScalarNames returns the scalar names in sorted order.
func (m *ParsedModel) ScalarNames() []string {
	return slices.Sorted(maps.Keys(m.Scalars))
}

// TableNames returns the table names in sorted order.
func (m *ParsedModel) TableNames() []string {
	return slices.Sorted(maps.Keys(m.Tables))
}

// Clone deep-copies the model so drivers can override values and
// recalculate without touching the source model. Includes are shared.
func (m *ParsedModel) Clone() *ParsedModel {
	out := NewParsedModel()
	for name, v := range m.Scalars {
		cp := *v
		out.Scalars[name] = &cp
	}
	for name, t := range m.Tables {
		out.Tables[name] = t.Clone()
	}
	for name, s := range m.Scenarios {
		out.Scenarios[name] = maps.Clone(s)
	}
	maps.Copy(out.Includes, m.Includes)
	return out
}

// CalculatedModel is the resolved output: every scalar has a concrete value
// and every row formula has become a column.
type CalculatedModel struct {
	Scalars   map[string]*Variable
	Tables    map[string]*Table
	Scenarios map[string]Scenario
}

// Scalar returns the calculated value of a scalar.
func (m *CalculatedModel) Scalar(name string) (formula.Value, bool) {
	v, ok := m.Scalars[name]
	if !ok {
		return formula.Null, false
	}
	return v.Value, true
}

// Column returns a calculated column.
func (m *CalculatedModel) Column(table, column string) (*Column, bool) {
	t, ok := m.Tables[table]
	if !ok {
		return nil, false
	}
	col, ok := t.Columns[column]
	return col, ok
}

func (m *CalculatedModel) ScalarNames() []string {
	return slices.Sorted(maps.Keys(m.Scalars))
}

func (m *CalculatedModel) TableNames() []string {
	return slices.Sorted(maps.Keys(m.Tables))
}
