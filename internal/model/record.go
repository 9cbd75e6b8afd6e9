// Package model holds the entities persisted by the Index Store, the
// Session Store and the Metrics Aggregator.
package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Kind is the Record discriminator.
type Kind string

const (
	KindProduct   Kind = "product"
	KindCategory  Kind = "category"
	KindKnowledge Kind = "knowledge"
)

// Attributes is the schema-less bag of record metadata: brand, sku,
// price, stock, amperage, voltage, polos, curve, categories, etc.
type Attributes map[string]any

// String returns the string form of an attribute, or "" if absent or
// not a string.
func (a Attributes) String(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Record is the unified content unit indexed by the Index Store: a
// product, a category or a knowledge-base entry.
type Record struct {
	ID         string `gorm:"primaryKey"`
	Kind       Kind   `gorm:"index"`
	Title      string
	Body       string
	Attributes Attributes `gorm:"type:jsonb;serializer:json"`

	// ContentHash is a stable hash of the normalized (title, body,
	// attributes) tuple, used to skip embedding work on unchanged rows.
	ContentHash string `gorm:"index"`

	// DenseVector is present iff Active=true (embedding invariance).
	// Dimension is the application-wide constant Dimension.
	DenseVector *pgvector.Vector `gorm:"type:vector(1536)"`

	// LexicalVector is maintained by a Postgres generated column
	// (tsvector) on title/body/attributes text; the struct field exists
	// so the store package can reason about it, the DB recomputes it.
	LexicalVector string `gorm:"->" `

	Active bool `gorm:"index"`

	UpdatedAt time.Time
	CreatedAt time.Time
}

// Dimension is the fixed dense-vector width used by the reference
// embedding provider.
const Dimension = 1536

// TableName pins the gorm table name regardless of struct name changes.
func (Record) TableName() string { return "records" }
