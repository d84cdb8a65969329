// Package pkey implements the primary-key policy shared by every insert site.
package pkey

import (
	"github.com/google/uuid"
)

type Kind int

const (
	// Generate leaves the id to the database default (uuid_generate_v4()).
	Generate Kind = iota
	// Fixed uses a caller supplied id.
	Fixed
	// V5 derives the id from a namespace and a name.
	V5
)

// Policy is a sum over {Generate, Fixed(id), V5(namespace, name)}.
// The zero value is Generate.
type Policy struct {
	kind      Kind
	fixed     uuid.UUID
	namespace uuid.UUID
	name      string
}

func NewGenerate() Policy { return Policy{kind: Generate} }

func NewFixed(id uuid.UUID) Policy { return Policy{kind: Fixed, fixed: id} }

func NewV5(namespace uuid.UUID, name string) Policy {
	return Policy{kind: V5, namespace: namespace, name: name}
}

func (p Policy) Kind() Kind { return p.kind }

// Resolve returns the id to insert, or uuid.Nil when the database should generate it.
func (p Policy) Resolve() uuid.UUID {
	switch p.kind {
	case Fixed:
		return p.fixed
	case V5:
		return uuid.NewSHA1(p.namespace, []byte(p.name))
	default:
		return uuid.Nil
	}
}

// Child returns a V5 policy namespaced under the id this policy resolves to.
// Seeders use it to derive stable ids for nested rows.
func (p Policy) Child(name string) Policy {
	ns := p.Resolve()
	if ns == uuid.Nil {
		return NewGenerate()
	}
	return NewV5(ns, name)
}

func (p Policy) String() string {
	switch p.kind {
	case Fixed:
		return "fixed(" + p.fixed.String() + ")"
	case V5:
		return "v5(" + p.namespace.String() + "," + p.name + ")"
	default:
		return "generate"
	}
}
