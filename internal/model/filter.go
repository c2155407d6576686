package model

import (
	"fmt"
	"strings"
	"time"
)

// Filter restricts which memories a search considers. Zero-value fields are
// ignored; ToSQLClause renders the conjunction of the populated ones.
type Filter struct {
	Types          []MemoryType
	MinWeight      *float32
	ConversationID *string
	Sources        []MemorySource
	Tiers          []Tier
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	EntityContains string
}

// IsEmpty reports whether no predicate is set.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.Types) == 0 && f.MinWeight == nil && f.ConversationID == nil &&
		len(f.Sources) == 0 && len(f.Tiers) == 0 &&
		f.CreatedAfter == nil && f.CreatedBefore == nil && f.EntityContains == ""
}

// ToSQLClause renders the filter as a SQL predicate over the memories table
// columns, or "" when no predicate is set. String values are quoted with
// doubled single quotes; timestamps compare as microsecond integers.
func (f *Filter) ToSQLClause() string {
	if f.IsEmpty() {
		return ""
	}
	var parts []string
	if len(f.Types) > 0 {
		vals := make([]string, len(f.Types))
		for i, t := range f.Types {
			vals[i] = quoteSQL(string(t))
		}
		parts = append(parts, fmt.Sprintf("memory_type IN (%s)", strings.Join(vals, ", ")))
	}
	if f.MinWeight != nil {
		parts = append(parts, fmt.Sprintf("weight >= %g", *f.MinWeight))
	}
	if f.ConversationID != nil {
		parts = append(parts, fmt.Sprintf("conversation_id = %s", quoteSQL(*f.ConversationID)))
	}
	if len(f.Sources) > 0 {
		vals := make([]string, len(f.Sources))
		for i, s := range f.Sources {
			vals[i] = quoteSQL(string(s))
		}
		parts = append(parts, fmt.Sprintf("source IN (%s)", strings.Join(vals, ", ")))
	}
	if len(f.Tiers) > 0 {
		vals := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			vals[i] = quoteSQL(string(t))
		}
		parts = append(parts, fmt.Sprintf("tier IN (%s)", strings.Join(vals, ", ")))
	}
	if f.CreatedAfter != nil {
		parts = append(parts, fmt.Sprintf("created_at > %d", f.CreatedAfter.UTC().UnixMicro()))
	}
	if f.CreatedBefore != nil {
		parts = append(parts, fmt.Sprintf("created_at < %d", f.CreatedBefore.UTC().UnixMicro()))
	}
	if f.EntityContains != "" {
		parts = append(parts, fmt.Sprintf("entities LIKE %s", quoteSQL("%"+f.EntityContains+"%")))
	}
	return strings.Join(parts, " AND ")
}

func quoteSQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
