package schema

import (
	"slices"
	"strings"

	"github.com/go-playground/errors"
)

type ColumnSpec struct {
	Name     string      `json:"name"`
	Type     LogicalType `json:"type"`
	Nullable bool        `json:"nullable"`
	IsKey    bool        `json:"isKey"`
}

// TableSpec describes one table as seen by a connector. Columns keep the
// engine's ordinal order; Watermark names the column used for incremental reads.
type TableSpec struct {
	Schema    string       `json:"schema,omitempty"`
	Name      string       `json:"name"`
	Columns   []ColumnSpec `json:"columns"`
	Watermark string       `json:"watermark,omitempty"`
}

func (t *TableSpec) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column looks a column up by name, case-insensitively.
func (t *TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

func (t *TableSpec) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t *TableSpec) KeyColumns() []string {
	var keys []string
	for _, c := range t.Columns {
		if c.IsKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

func (t *TableSpec) WatermarkColumn() (ColumnSpec, bool) {
	if t.Watermark == "" {
		return ColumnSpec{}, false
	}
	return t.Column(t.Watermark)
}

// SetWatermark designates the watermark column. An empty name selects the
// single-column primary key when it is orderable.
func (t *TableSpec) SetWatermark(name string) error {
	if name == "" {
		keys := t.KeyColumns()
		if len(keys) != 1 {
			return errors.Newf("table %s has no single-column key, a watermark column must be configured", t.QualifiedName())
		}
		name = keys[0]
	}

	col, ok := t.Column(name)
	if !ok {
		return errors.Newf("watermark column %q does not exist in %s", name, t.QualifiedName())
	}

	if !col.Type.Orderable() {
		return errors.Newf("watermark column %q of %s has type %s which is not orderable", col.Name, t.QualifiedName(), col.Type)
	}

	t.Watermark = col.Name
	return nil
}

// SetKeyColumns overrides the upsert key, for sources without a primary key.
func (t *TableSpec) SetKeyColumns(names []string) error {
	if len(names) == 0 {
		return nil
	}

	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			return errors.Newf("key column %q does not exist in %s", n, t.QualifiedName())
		}
	}

	for i := range t.Columns {
		t.Columns[i].IsKey = slices.ContainsFunc(names, func(n string) bool {
			return strings.EqualFold(n, t.Columns[i].Name)
		})
	}
	return nil
}

func (t *TableSpec) Clone() *TableSpec {
	if t == nil {
		return nil
	}
	c := *t
	c.Columns = slices.Clone(t.Columns)
	return &c
}
