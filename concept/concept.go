// Package concept holds the value model returned by queries: type concepts,
// instances and values.
package concept

import "encoding/hex"

// Concept is a type, an instance, or a free-standing value. The set of
// implementations is closed.
type Concept interface {
	isConcept()
}

// ScopedLabel is the label of a role type, scoped by its relation type.
type ScopedLabel struct {
	Scope string
	Name  string
}

func (l ScopedLabel) String() string {
	if l.Scope == "" {
		return l.Name
	}
	return l.Scope + ":" + l.Name
}

type EntityType struct {
	Label string
}

type RelationType struct {
	Label string
}

type RoleType struct {
	Label ScopedLabel
}

// AttributeType is the type of an attribute. ValueType is nil for abstract
// attribute types declared without one.
type AttributeType struct {
	Label     string
	ValueType *ValueType
}

// Entity is an entity instance.
type Entity struct {
	IID  []byte
	Type *EntityType
}

// Relation is a relation instance.
type Relation struct {
	IID  []byte
	Type *RelationType
}

// Attribute is an attribute instance. Type must be set for it to be encoded.
type Attribute struct {
	IID   []byte
	Type  *AttributeType
	Value Value
}

func (EntityType) isConcept()    {}
func (RelationType) isConcept()  {}
func (RoleType) isConcept()      {}
func (AttributeType) isConcept() {}
func (Entity) isConcept()        {}
func (Relation) isConcept()      {}
func (Attribute) isConcept()     {}
func (Value) isConcept()         {}

// IIDString renders an instance IID in the 0x-prefixed form used by the
// server.
func IIDString(iid []byte) string {
	return "0x" + hex.EncodeToString(iid)
}

// IsInstance reports whether c is an entity or relation instance.
func IsInstance(c Concept) bool {
	switch c.(type) {
	case Entity, *Entity, Relation, *Relation:
		return true
	}
	return false
}
