// Package lifecycle decides when a record's embedding must be (re)computed and
// runs the computation when a scheduled task fires.
package lifecycle

import (
	"BizAdvisor/backend/go/internal/models"
	"strings"
)

// Embeddable is a record seen through its Capability.
type Embeddable interface {
	Ref() models.RecordRef
	Payload() string
	ColumnValues() map[string]string
	AutoEmbed() bool
}

// Capability describes how one record type takes part in semantic search.
// Record types hold a Capability value instead of inheriting behaviour.
type Capability[T any] struct {
	Kind models.RecordKind
	// Columns are the embeddable columns, in payload order.
	Columns []string
	ID      func(T) uint
	// Fields returns the current value of every embeddable column.
	Fields func(T) map[string]string
	// AutoEmbed reports whether rec should be embedded on save. Nil means always.
	AutoEmbed func(T) bool
}

// Bind returns rec as an Embeddable.
func (c Capability[T]) Bind(rec T) Embeddable {
	return bound[T]{c: c, rec: rec}
}

// Payload joins the non-blank embeddable columns of rec with blank lines.
func (c Capability[T]) Payload(rec T) string {
	fields := c.Fields(rec)
	parts := make([]string, 0, len(c.Columns))
	for _, col := range c.Columns {
		if v := strings.TrimSpace(fields[col]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n")
}

type bound[T any] struct {
	c   Capability[T]
	rec T
}

func (b bound[T]) Ref() models.RecordRef {
	return models.RecordRef{Kind: b.c.Kind, ID: b.c.ID(b.rec)}
}

func (b bound[T]) Payload() string { return b.c.Payload(b.rec) }

func (b bound[T]) ColumnValues() map[string]string {
	fields := b.c.Fields(b.rec)
	out := make(map[string]string, len(b.c.Columns))
	for _, col := range b.c.Columns {
		out[col] = fields[col]
	}
	return out
}

func (b bound[T]) AutoEmbed() bool {
	if b.c.AutoEmbed == nil {
		return true
	}
	return b.c.AutoEmbed(b.rec)
}

// Changed reports whether any embeddable column differs between before and after.
func Changed(before, after Embeddable) bool {
	b, a := before.ColumnValues(), after.ColumnValues()
	if len(b) != len(a) {
		return true
	}
	for col, v := range a {
		if b[col] != v {
			return true
		}
	}
	return false
}
