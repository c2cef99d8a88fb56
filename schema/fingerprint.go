package schema

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Fingerprint is a stable hash of a table's column list. It changes when a column is
// added, removed, renamed, reordered, retyped or changes nullability or key membership.
type Fingerprint string

func FingerprintOf(t *TableSpec) Fingerprint {
	var b strings.Builder
	for _, c := range t.Columns {
		b.WriteString(strings.ToLower(c.Name))
		b.WriteByte(':')
		b.WriteString(c.Type.String())
		b.WriteByte(':')
		b.WriteString(strconv.FormatBool(c.Nullable))
		b.WriteByte(':')
		b.WriteString(strconv.FormatBool(c.IsKey))
		b.WriteByte(';')
	}
	return Fingerprint(strconv.FormatUint(xxh3.HashString(b.String()), 16))
}
