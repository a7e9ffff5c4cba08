package loader

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

// reserved top-level keys belong to other tools and are skipped.
var reserved = map[string]bool{
	"_forge_version": true,
	"_name":          true,
	"monte_carlo":    true,
	"tornado":        true,
	"decision_tree":  true,
}

// dateText matches the column date forms: YYYY-MM and YYYY-MM-DD.
var dateText = regexp.MustCompile(`^\d{4}-\d{2}(-\d{2})?$`)

// build adds the contents of one decoded document to m. Keys are visited in
// sorted order so errors are reported deterministically.
func build(m *model.ParsedModel, doc map[string]any) ([]Include, error) {
	var includes []Include
	for _, key := range slices.Sorted(maps.Keys(doc)) {
		value := doc[key]
		switch {
		case reserved[key]:
			continue
		case key == "_includes":
			incs, err := parseIncludes(value)
			if err != nil {
				return nil, err
			}
			includes = append(includes, incs...)
			continue
		case key == "scenarios" && isScenarios(value):
			if err := parseScenarios(m, value.(map[string]any)); err != nil {
				return nil, err
			}
			continue
		}

		node, ok := value.(map[string]any)
		if !ok {
			// a bare value or formula at the top level is a scalar
			v, err := bareScalar(key, value)
			if err != nil {
				return nil, err
			}
			m.AddScalar(v)
			continue
		}
		switch {
		case isScalar(node):
			v, err := parseScalar(key, node)
			if err != nil {
				return nil, err
			}
			m.AddScalar(v)
		case isSection(node):
			if err := parseSection(m, key, node); err != nil {
				return nil, err
			}
		default:
			t, err := parseTable(key, node)
			if err != nil {
				return nil, err
			}
			if err := m.AddTable(t); err != nil {
				return nil, err
			}
		}
	}
	return includes, nil
}

func parseIncludes(value any) ([]Include, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, invalid("_includes must be a list of {file, as} entries")
	}
	out := make([]Include, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, invalid("each include must be a mapping with 'file' and 'as' fields")
		}
		file, _ := entry["file"].(string)
		if file == "" {
			return nil, invalid("include must have a 'file' field")
		}
		alias, _ := entry["as"].(string)
		if alias == "" {
			return nil, invalid("include '%s' must have an 'as' field for the namespace", file)
		}
		out = append(out, Include{File: file, As: alias})
	}
	return out, nil
}

// isScenarios tells a scenarios section (scenario -> variable -> number)
// from a table that happens to be named "scenarios".
func isScenarios(value any) bool {
	node, ok := value.(map[string]any)
	if !ok || len(node) == 0 {
		return false
	}
	numeric := false
	for _, v := range node {
		inner, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, x := range inner {
			if _, ok := x.(float64); ok {
				numeric = true
			}
		}
	}
	return numeric
}

func parseScenarios(m *model.ParsedModel, node map[string]any) error {
	for name, v := range node {
		overrides := v.(map[string]any)
		s := make(model.Scenario, len(overrides))
		for variable, x := range overrides {
			n, ok := x.(float64)
			if !ok {
				return invalid("scenario '%s': variable '%s' must be a number", name, variable)
			}
			s[variable] = n
		}
		m.Scenarios[name] = s
	}
	return nil
}

func isScalar(node map[string]any) bool {
	_, hasValue := node["value"]
	_, hasFormula := node["formula"]
	if !hasValue && !hasFormula {
		return false
	}
	// {value: [...]} is a rich column, which only appears inside a table
	_, isList := node["value"].([]any)
	return !isList
}

// isSection reports whether node groups scalars, e.g. summary.total. A
// table with a list column anywhere is never a section.
func isSection(node map[string]any) bool {
	if len(node) == 0 {
		return false
	}
	for _, v := range node {
		child, ok := v.(map[string]any)
		if !ok || !isScalar(child) {
			return false
		}
	}
	return true
}

func parseSection(m *model.ParsedModel, section string, node map[string]any) error {
	for name, v := range node {
		child, ok := v.(map[string]any)
		if !ok || !isScalar(child) {
			return invalid("section %s: %s must be a scalar with a value or formula", section, name)
		}
		scalar, err := parseScalar(section+"."+name, child)
		if err != nil {
			return err
		}
		m.AddScalar(scalar)
	}
	return nil
}

func bareScalar(name string, value any) (*model.Variable, error) {
	if s, ok := value.(string); ok && strings.HasPrefix(s, "=") {
		return model.NewVariable(name, formula.Null, s), nil
	}
	v, err := scalarValue(value)
	if err != nil {
		return nil, invalid("scalar %s: %v", name, err)
	}
	return model.NewVariable(name, v, ""), nil
}

func parseScalar(name string, node map[string]any) (*model.Variable, error) {
	v, err := scalarValue(node["value"])
	if err != nil {
		return nil, invalid("scalar %s: %v", name, err)
	}
	scalar := model.NewVariable(name, v, "")
	if f, ok := node["formula"]; ok && f != nil {
		text, ok := f.(string)
		if !ok {
			return nil, invalid("scalar %s: formula must be text", name)
		}
		scalar.Formula = text
	}
	scalar.Metadata = parseMetadata(node)
	return scalar, nil
}

func parseMetadata(node map[string]any) model.Metadata {
	text := func(key string) string {
		s, _ := node[key].(string)
		return s
	}
	return model.Metadata{
		Unit:             text("unit"),
		Notes:            text("notes"),
		Source:           text("source"),
		ValidationStatus: text("validation_status"),
		LastUpdated:      text("last_updated"),
	}
}

func scalarValue(x any) (formula.Value, error) {
	switch x := x.(type) {
	case nil:
		return formula.Null, nil
	case float64:
		return formula.Number(x), nil
	case bool:
		return formula.Boolean(x), nil
	case time.Time:
		return formula.DateOf(x), nil
	case string:
		if dateText.MatchString(x) {
			return parseDateText(x)
		}
		return formula.Text(x), nil
	}
	return formula.Null, fmt.Errorf("unsupported value %v", x)
}

func parseTable(name string, node map[string]any) (*model.Table, error) {
	t := model.NewTable(name)
	for _, key := range slices.Sorted(maps.Keys(node)) {
		if key == "_metadata" {
			continue
		}
		switch v := node[key].(type) {
		case string:
			if !strings.HasPrefix(v, "=") {
				return nil, invalid("column '%s' in table '%s' must be an array or formula", key, name)
			}
			if err := t.AddRowFormula(key, v); err != nil {
				return nil, invalid("%v", err)
			}
		case []any:
			col, err := parseColumn(key, v)
			if err != nil {
				return nil, err
			}
			if err := t.AddColumn(col); err != nil {
				return nil, invalid("%v", err)
			}
		case map[string]any:
			if list, ok := v["value"].([]any); ok {
				col, err := parseColumn(key, list)
				if err != nil {
					return nil, err
				}
				col.Metadata = parseMetadata(v)
				if err := t.AddColumn(col); err != nil {
					return nil, invalid("%v", err)
				}
				continue
			}
			if f, ok := v["formula"].(string); ok && strings.HasPrefix(f, "=") {
				if err := t.AddRowFormula(key, f); err != nil {
					return nil, invalid("%v", err)
				}
				continue
			}
			return nil, invalid("column '%s' in table '%s' must have a value list or a formula", key, name)
		default:
			return nil, invalid("column '%s' in table '%s' must be an array or formula", key, name)
		}
	}
	return t, nil
}

// parseColumn types a column from its first element; every later element
// must have the same kind.
func parseColumn(name string, list []any) (*model.Column, error) {
	if len(list) == 0 {
		return nil, invalid("column '%s' cannot be empty", name)
	}
	if list[0] == nil {
		return nil, invalid("column '%s' cannot start with null; the first element sets the column type", name)
	}
	kind, err := kindOf(list[0])
	if err != nil {
		return nil, invalid("column '%s': %v", name, err)
	}
	values := make([]formula.Value, len(list))
	for i, x := range list {
		v, err := columnValue(kind, x)
		if err != nil {
			return nil, invalid("column '%s' row %d: %v", name, i, err)
		}
		values[i] = v
	}
	col, err := model.NewColumn(name, values)
	if err != nil {
		return nil, invalid("%v", err)
	}
	col.Kind = kind
	return col, nil
}

func kindOf(x any) (model.ColumnKind, error) {
	switch x := x.(type) {
	case float64:
		return model.ColumnNumber, nil
	case bool:
		return model.ColumnBoolean, nil
	case time.Time:
		return model.ColumnDate, nil
	case string:
		if dateText.MatchString(x) {
			return model.ColumnDate, nil
		}
		return model.ColumnText, nil
	}
	return 0, fmt.Errorf("unsupported element %v", x)
}

func columnValue(kind model.ColumnKind, x any) (formula.Value, error) {
	switch kind {
	case model.ColumnNumber:
		switch x := x.(type) {
		case float64:
			return formula.Number(x), nil
		case nil:
			return formula.Null, fmt.Errorf("null values not allowed in numeric arrays; use 0 or remove the row")
		}
	case model.ColumnText:
		if s, ok := x.(string); ok {
			return formula.Text(s), nil
		}
	case model.ColumnBoolean:
		if b, ok := x.(bool); ok {
			return formula.Boolean(b), nil
		}
	case model.ColumnDate:
		switch x := x.(type) {
		case time.Time:
			return formula.DateOf(x), nil
		case string:
			if !dateText.MatchString(x) {
				return formula.Null, fmt.Errorf("invalid date format '%s' (expected YYYY-MM or YYYY-MM-DD)", x)
			}
			return parseDateText(x)
		}
	}
	return formula.Null, fmt.Errorf("expected %s, found %s", kind, describe(x))
}

// parseDateText reads YYYY-MM-DD, or YYYY-MM as the first of the month.
func parseDateText(s string) (formula.Value, error) {
	if len(s) == len("2006-01") {
		s += "-01"
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return formula.Null, fmt.Errorf("invalid date '%s': %w", s, err)
	}
	return formula.DateOf(t), nil
}

func describe(x any) string {
	switch x.(type) {
	case nil:
		return "null"
	case float64:
		return "Number"
	case bool:
		return "Boolean"
	case string:
		return "Text"
	case time.Time:
		return "Date"
	}
	return fmt.Sprintf("%T", x)
}
