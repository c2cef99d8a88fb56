package schema

import (
	"fmt"
	"strings"
)

type TypeKind string

const (
	SmallInt    TypeKind = "SMALLINT"
	Integer     TypeKind = "INTEGER"
	BigInt      TypeKind = "BIGINT"
	Decimal     TypeKind = "DECIMAL"
	Float       TypeKind = "FLOAT"
	Double      TypeKind = "DOUBLE"
	Boolean     TypeKind = "BOOLEAN"
	Char        TypeKind = "CHAR"
	Varchar     TypeKind = "VARCHAR"
	Text        TypeKind = "TEXT"
	Date        TypeKind = "DATE"
	Time        TypeKind = "TIME"
	Timestamp   TypeKind = "TIMESTAMP"
	TimestampTZ TypeKind = "TIMESTAMPTZ"
	Binary      TypeKind = "BINARY"
	JSON        TypeKind = "JSON"
	UUID        TypeKind = "UUID"
	Unknown     TypeKind = "UNKNOWN"
)

// Family groups kinds whose values can be stored in each other's columns without loss
// of meaning. Two columns of the same family are structurally compatible.
type Family string

const (
	FamilyInteger  Family = "integer"
	FamilyNumeric  Family = "numeric"
	FamilyBoolean  Family = "boolean"
	FamilyString   Family = "string"
	FamilyDate     Family = "date"
	FamilyTime     Family = "time"
	FamilyDateTime Family = "datetime"
	FamilyBinary   Family = "binary"
	FamilyJSON     Family = "json"
	FamilyUUID     Family = "uuid"
	FamilyUnknown  Family = "unknown"
)

// LogicalType is the engine independent description of a column type.
// Length applies to CHAR and VARCHAR, Precision and Scale to DECIMAL.
type LogicalType struct {
	Kind      TypeKind `json:"kind"`
	Length    int      `json:"length,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Scale     int      `json:"scale,omitempty"`
}

func (t LogicalType) String() string {
	switch t.Kind {
	case Char, Varchar:
		if t.Length > 0 {
			return fmt.Sprintf("%s(%d)", t.Kind, t.Length)
		}
	case Decimal:
		if t.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", t.Kind, t.Precision, t.Scale)
		}
	}
	return string(t.Kind)
}

func (t LogicalType) Family() Family {
	switch t.Kind {
	case SmallInt, Integer, BigInt:
		return FamilyInteger
	case Decimal, Float, Double:
		return FamilyNumeric
	case Boolean:
		return FamilyBoolean
	case Char, Varchar, Text:
		return FamilyString
	case Date:
		return FamilyDate
	case Time:
		return FamilyTime
	case Timestamp, TimestampTZ:
		return FamilyDateTime
	case Binary:
		return FamilyBinary
	case JSON:
		return FamilyJSON
	case UUID:
		return FamilyUUID
	}
	return FamilyUnknown
}

func (t LogicalType) IsKnown() bool {
	return t.Kind != "" && t.Kind != Unknown
}

// Orderable reports whether values of the type can drive a watermark.
// Text kinds are compared by bytes on both sides, which is only meaningful for
// time ordered identifiers such as ULIDs or version 7 UUIDs.
func (t LogicalType) Orderable() bool {
	switch t.Family() {
	case FamilyInteger, FamilyDate, FamilyDateTime, FamilyString, FamilyUUID:
		return true
	}
	return false
}

// ParseLogicalType parses the canonical form produced by LogicalType.String.
func ParseLogicalType(s string) (LogicalType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	name, args, hasArgs := strings.Cut(s, "(")
	kind := TypeKind(strings.TrimSpace(name))

	switch kind {
	case SmallInt, Integer, BigInt, Decimal, Float, Double, Boolean, Char, Varchar, Text,
		Date, Time, Timestamp, TimestampTZ, Binary, JSON, UUID:
	default:
		return LogicalType{Kind: Unknown}, fmt.Errorf("unknown logical type %q", s)
	}

	t := LogicalType{Kind: kind}
	if !hasArgs {
		return t, nil
	}

	args = strings.TrimSuffix(args, ")")
	switch kind {
	case Char, Varchar:
		if _, err := fmt.Sscanf(args, "%d", &t.Length); err != nil {
			return LogicalType{Kind: Unknown}, fmt.Errorf("invalid length in %q", s)
		}
	case Decimal:
		if _, err := fmt.Sscanf(args, "%d,%d", &t.Precision, &t.Scale); err != nil {
			return LogicalType{Kind: Unknown}, fmt.Errorf("invalid precision in %q", s)
		}
	default:
		return LogicalType{Kind: Unknown}, fmt.Errorf("unexpected arguments in %q", s)
	}
	return t, nil
}
