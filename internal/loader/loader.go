// Package loader reads model files into a model.ParsedModel. YAML (single
// or multi-document) and TOML are supported; `_includes` pull other model
// files in under an alias.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mollendorff-ai/forge/internal/ctxlog"
	"github.com/mollendorff-ai/forge/internal/formula"
	"github.com/mollendorff-ai/forge/internal/model"
)

// Format selects the decoder for a model file.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

func (f Format) String() string {
	if f == FormatTOML {
		return "toml"
	}
	return "yaml"
}

// FormatOf picks the format from a file extension. Anything that is not
// .toml is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads the model at path and every model it includes.
func Load(ctx context.Context, path string) (*model.ParsedModel, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model path: %w", err)
	}
	m, err := load(ctx, abs, nil)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("model loaded",
		"path", abs,
		"scalars", len(m.Scalars),
		"tables", len(m.Tables),
		"includes", len(m.Includes))
	return m, nil
}

// load reads one file. chain holds the files currently being loaded, so a
// file that includes itself through any path is rejected while the same
// file included twice from different branches is fine.
func load(ctx context.Context, path string, chain []string) (*model.ParsedModel, error) {
	if slices.Contains(chain, path) {
		names := make([]string, 0, len(chain)+1)
		for _, p := range append(chain, path) {
			names = append(names, filepath.Base(p))
		}
		return nil, formula.NewApplicationError(formula.FailedPrecondition,
			"include cycle: "+strings.Join(names, " → "))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, formula.NewApplicationError(formula.NotFound, fmt.Sprintf("model file not found: %s", path))
		}
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	m, includes, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	chain = append(chain, path)
	dir := filepath.Dir(path)
	for _, inc := range includes {
		target := inc.File
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			return nil, formula.NewApplicationError(formula.NotFound,
				fmt.Sprintf("included file not found: %s (referenced as '%s')", inc.File, inc.As))
		}
		child, err := load(ctx, target, chain)
		if err != nil {
			return nil, err
		}
		m.Includes[inc.As] = child
		ctxlog.FromContext(ctx).Debug("include loaded", "alias", inc.As, "file", inc.File)
	}
	return m, nil
}

// Include is one entry of a model's `_includes` list.
type Include struct {
	File string
	As   string
}

// Parse decodes one model document without resolving its includes, which
// are returned for the caller to load. YAML input may hold several
// documents; they are merged into one model.
func Parse(data []byte, format Format) (*model.ParsedModel, []Include, error) {
	docs, err := decode(data, format)
	if err != nil {
		return nil, nil, err
	}
	m := model.NewParsedModel()
	var includes []Include
	for _, doc := range docs {
		incs, err := build(m, doc)
		if err != nil {
			return nil, nil, err
		}
		for _, inc := range incs {
			if slices.ContainsFunc(includes, func(other Include) bool { return other.As == inc.As }) {
				return nil, nil, formula.NewApplicationError(formula.AlreadyExists,
					fmt.Sprintf("include alias '%s' is used twice", inc.As))
			}
			includes = append(includes, inc)
		}
	}
	return m, includes, nil
}

func decode(data []byte, format Format) ([]map[string]any, error) {
	if format == FormatTOML {
		var doc map[string]any
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, invalid("invalid TOML: %v", err)
		}
		return []map[string]any{normalize(doc).(map[string]any)}, nil
	}

	var docs []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var raw any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("invalid YAML: %v", err)
		}
		if raw == nil {
			continue
		}
		doc, ok := normalize(raw).(map[string]any)
		if !ok {
			return nil, invalid("a model document must be a mapping")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// normalize converts decoder output into map[string]any, []any, float64,
// string, bool, time.Time and nil.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = normalize(x)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[fmt.Sprint(k)] = normalize(x)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = normalize(x)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return v
}

func invalid(format string, args ...any) error {
	return formula.NewApplicationError(formula.InvalidArgument, fmt.Sprintf(format, args...))
}
