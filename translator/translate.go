// Package translator maps a source table onto the target engine. It decides whether
// the target must be created or altered, and refuses anything that is not additive.
package translator

import (
	"fmt"
	"strings"

	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/schema"
	"github.com/Trendyol/go-db-sync/schemacache"
)

type Action string

const (
	ActionNoOp         Action = "noop"
	ActionCreateTarget Action = "create_target"
	ActionAlterTarget  Action = "alter_target"
	ActionIncompatible Action = "incompatible"
)

type Request struct {
	Source *schema.TableSpec
	// Cached is the record captured on the last successful translation, nil on first sight.
	Cached *schemacache.Record
	// Target is the introspected target table, nil when it does not exist.
	Target     *schema.TableSpec
	TargetName string
}

type Result struct {
	Action      Action
	TargetSpec  *schema.TableSpec
	Statements  []string
	Fingerprint schema.Fingerprint
	Drift       DriftReport
}

type Translator struct {
	dialect       Dialect
	defaultSchema string
}

func New(dialect Dialect, defaultSchema string) *Translator {
	return &Translator{dialect: dialect, defaultSchema: defaultSchema}
}

func (t *Translator) Dialect() Dialect {
	return t.dialect
}

// Translate compares the source with its cached snapshot and with the target. On
// Incompatible it returns the result together with a *DriftError.
func (t *Translator) Translate(req Request) (*Result, error) {
	source := req.Source
	res := &Result{
		Fingerprint: schema.FingerprintOf(source),
		Drift:       DriftReport{Table: source.QualifiedName()},
	}

	for _, c := range source.Columns {
		if !c.Type.IsKnown() {
			res.Drift.Unmappable = append(res.Drift.Unmappable, c.Name)
			continue
		}
		if _, err := t.dialect.ColumnType(c.Type); err != nil {
			res.Drift.Unmappable = append(res.Drift.Unmappable, c.Name)
		}
	}

	if req.Cached != nil && req.Cached.Fingerprint != res.Fingerprint {
		for _, cached := range req.Cached.Columns {
			current, ok := source.Column(cached.Name)
			if !ok {
				res.Drift.Dropped = append(res.Drift.Dropped, cached.Name)
				continue
			}
			if current.Type != cached.Type {
				res.Drift.Retyped = append(res.Drift.Retyped, ColumnChange{
					Column: cached.Name,
					From:   cached.Type.String(),
					To:     current.Type.String(),
				})
			}
		}
	}

	var added []schema.ColumnSpec
	if req.Target != nil {
		for _, c := range source.Columns {
			tc, ok := req.Target.Column(c.Name)
			if !ok {
				added = append(added, c)
				continue
			}
			if want := t.dialect.TargetType(c.Type); c.Type.IsKnown() && !Compatible(want, tc.Type) {
				res.Drift.Retyped = append(res.Drift.Retyped, ColumnChange{
					Column: c.Name,
					From:   tc.Type.String(),
					To:     want.String(),
					Target: true,
				})
			}
		}
	}

	if res.Drift.Incompatible() {
		res.Action = ActionIncompatible
		return res, &DriftError{Report: res.Drift}
	}

	switch {
	case req.Target == nil:
		spec := t.targetSpec(source, req.TargetName)
		stmt, err := t.dialect.CreateTable(spec)
		if err != nil {
			return nil, err
		}
		res.Action = ActionCreateTarget
		res.TargetSpec = spec
		res.Statements = []string{stmt}

	case len(added) > 0:
		spec := req.Target.Clone()
		for _, c := range added {
			col := schema.ColumnSpec{Name: c.Name, Type: t.dialect.TargetType(c.Type), Nullable: true}
			stmt, err := t.dialect.AddColumn(spec, col)
			if err != nil {
				return nil, err
			}
			res.Statements = append(res.Statements, stmt)
			res.Drift.Added = append(res.Drift.Added, c.Name)
			spec.Columns = append(spec.Columns, col)
		}
		res.Action = ActionAlterTarget
		res.TargetSpec = spec

	default:
		res.Action = ActionNoOp
		res.TargetSpec = req.Target.Clone()
	}

	return res, nil
}

func (t *Translator) targetSpec(source *schema.TableSpec, name string) *schema.TableSpec {
	if name == "" {
		name = source.Name
	}
	schemaName, table := connector.SplitTableName(name, t.defaultSchema)

	spec := &schema.TableSpec{Schema: schemaName, Name: table}
	for _, c := range source.Columns {
		spec.Columns = append(spec.Columns, schema.ColumnSpec{
			Name:     c.Name,
			Type:     t.dialect.TargetType(c.Type),
			Nullable: c.Nullable,
			IsKey:    c.IsKey,
		})
	}
	return spec
}

// Compatible reports whether a target column of type have can store values of
// type want without changing their meaning.
func Compatible(want, have schema.LogicalType) bool {
	if want.Family() == have.Family() {
		return true
	}
	switch have.Family() {
	case schema.FamilyNumeric:
		return want.Family() == schema.FamilyInteger
	case schema.FamilyString:
		return want.Family() == schema.FamilyJSON || want.Family() == schema.FamilyUUID
	}
	return false
}

type ColumnChange struct {
	Column string `json:"column"`
	From   string `json:"from"`
	To     string `json:"to"`
	// Target marks a mismatch between the source and an existing target column.
	Target bool `json:"target,omitempty"`
}

// DriftReport lists the structural differences found for one table.
type DriftReport struct {
	Table      string         `json:"table"`
	Added      []string       `json:"added,omitempty"`
	Dropped    []string       `json:"dropped,omitempty"`
	Retyped    []ColumnChange `json:"retyped,omitempty"`
	Unmappable []string       `json:"unmappable,omitempty"`
}

func (r DriftReport) Incompatible() bool {
	return len(r.Dropped) > 0 || len(r.Retyped) > 0 || len(r.Unmappable) > 0
}

func (r DriftReport) String() string {
	var parts []string
	if len(r.Dropped) > 0 {
		parts = append(parts, "dropped "+strings.Join(r.Dropped, ", "))
	}
	for _, c := range r.Retyped {
		where := ""
		if c.Target {
			where = " on target"
		}
		parts = append(parts, fmt.Sprintf("retyped %s%s from %s to %s", c.Column, where, c.From, c.To))
	}
	if len(r.Unmappable) > 0 {
		parts = append(parts, "unmappable "+strings.Join(r.Unmappable, ", "))
	}
	if len(r.Added) > 0 {
		parts = append(parts, "added "+strings.Join(r.Added, ", "))
	}
	if len(parts) == 0 {
		return "no drift"
	}
	return strings.Join(parts, "; ")
}

type DriftError struct {
	Report DriftReport
}

func (e *DriftError) Error() string {
	return "incompatible schema drift on " + e.Report.Table + ": " + e.Report.String()
}
