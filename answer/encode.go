package answer

import (
	"fmt"
	"math"

	"github.com/tomyedwab/dbbridge/concept"
)

// Field names of the document format. Existing consumers parse these
// literally.
const (
	FieldType      = "type"
	FieldKind      = "kind"
	FieldLabel     = "label"
	FieldValueType = "value_type"
	FieldValue     = "value"
)

// noValueType names the value type of an attribute type declared without one.
const noValueType = "none"

// IntegerMode selects how long values are encoded.
type IntegerMode int

const (
	// IntegersAsFloat widens longs to float64, the legacy document shape.
	// Magnitudes above 2^53 lose precision.
	IntegersAsFloat IntegerMode = iota
	// IntegersExact keeps longs as int64.
	IntegersExact
)

type encoder struct {
	integers IntegerMode
}

// EncodeOption configures document encoding.
type EncodeOption func(*encoder)

// WithIntegerMode sets how long values are encoded.
func WithIntegerMode(mode IntegerMode) EncodeOption {
	return func(e *encoder) {
		e.integers = mode
	}
}

func newEncoder(opts []EncodeOption) *encoder {
	e := &encoder{integers: IntegersAsFloat}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ContractViolation is the panic value raised when a tree holds something the
// document format cannot represent. It is a programming error in the producer
// of the tree.
type ContractViolation struct {
	Concept concept.Concept
	Reason  string
}

func (c *ContractViolation) Error() string {
	return fmt.Sprintf("unexpected concept in document: %s: %#v", c.Reason, c.Concept)
}

func (m MapNode) JSON(opts ...EncodeOption) any {
	return newEncoder(opts).node(m)
}

func (l ListNode) JSON(opts ...EncodeOption) any {
	return newEncoder(opts).node(l)
}

func (n LeafNode) JSON(opts ...EncodeOption) any {
	return newEncoder(opts).node(n)
}

func (m MapNode) Validate() error {
	for _, child := range m {
		if err := validateNode(child); err != nil {
			return err
		}
	}
	return nil
}

func (l ListNode) Validate() error {
	for _, child := range l {
		if err := validateNode(child); err != nil {
			return err
		}
	}
	return nil
}

func (n LeafNode) Validate() error {
	if n.Leaf == nil || n.Leaf.kind != LeafConcept {
		return nil
	}
	if v := checkConcept(n.Leaf.concept); v != nil {
		return v
	}
	return nil
}

func validateNode(n Node) error {
	if n == nil {
		return nil
	}
	return n.Validate()
}

func checkConcept(c concept.Concept) *ContractViolation {
	switch c := c.(type) {
	case concept.EntityType, concept.RelationType, concept.RoleType, concept.AttributeType, concept.Value:
		return nil
	case concept.Attribute:
		if c.Type == nil {
			return &ContractViolation{Concept: c, Reason: "attribute without type"}
		}
		return nil
	case concept.Entity, concept.Relation, *concept.Entity, *concept.Relation:
		return &ContractViolation{Concept: c, Reason: "instance in fetch response"}
	default:
		return &ContractViolation{Concept: c, Reason: "unsupported concept"}
	}
}

func (e *encoder) node(n Node) any {
	switch n := n.(type) {
	case nil:
		return nil
	case MapNode:
		obj := make(map[string]any, len(n))
		for key, child := range n {
			obj[key] = e.node(child)
		}
		return obj
	case ListNode:
		arr := make([]any, len(n))
		for i, child := range n {
			arr[i] = e.node(child)
		}
		return arr
	case LeafNode:
		if n.Leaf == nil {
			return nil
		}
		return e.leaf(*n.Leaf)
	default:
		panic(fmt.Sprintf("unknown node type %T", n))
	}
}

func (e *encoder) leaf(l Leaf) any {
	switch l.kind {
	case LeafEmpty:
		return nil
	case LeafValueType:
		return l.valueType.Name()
	case LeafKindDescriptor:
		return l.typeKind.Name()
	case LeafConcept:
		return e.concept(l.concept)
	default:
		panic(fmt.Sprintf("unknown leaf kind %d", l.kind))
	}
}

func (e *encoder) concept(c concept.Concept) any {
	if v := checkConcept(c); v != nil {
		panic(v)
	}
	switch c := c.(type) {
	case concept.EntityType:
		return jsonType(concept.KindEntity, c.Label)
	case concept.RelationType:
		return jsonType(concept.KindRelation, c.Label)
	case concept.RoleType:
		return jsonType(concept.KindRole, c.Label.String())
	case concept.AttributeType:
		return jsonAttributeType(c.Label, c.ValueType)
	case concept.Attribute:
		vt := c.Value.Type()
		return map[string]any{
			FieldType:  jsonAttributeType(c.Type.Label, &vt),
			FieldValue: e.value(c.Value),
		}
	case concept.Value:
		return map[string]any{
			FieldValueType: c.Type().Name(),
			FieldValue:     e.value(c),
		}
	}
	panic(&ContractViolation{Concept: c, Reason: "unsupported concept"})
}

func jsonType(kind concept.Kind, label string) map[string]any {
	return map[string]any{
		FieldKind:  kind.Name(),
		FieldLabel: label,
	}
}

func jsonAttributeType(label string, vt *concept.ValueType) map[string]any {
	name := noValueType
	if vt != nil {
		name = vt.Name()
	}
	return map[string]any{
		FieldKind:      concept.KindAttribute.Name(),
		FieldLabel:     label,
		FieldValueType: name,
	}
}

func (e *encoder) value(v concept.Value) any {
	switch v.Type().Base {
	case concept.BaseBoolean:
		return v.Boolean()
	case concept.BaseLong:
		if e.integers == IntegersExact {
			return v.Long()
		}
		return float64(v.Long())
	case concept.BaseDouble:
		return double(v.Double())
	case concept.BaseString:
		return v.Text()
	case concept.BaseDecimal, concept.BaseDate, concept.BaseDatetime, concept.BaseDatetimeTZ, concept.BaseDuration:
		return v.String()
	case concept.BaseStruct:
		s := v.Struct()
		return map[string]any{s.Name: e.structFields(s)}
	default:
		panic(fmt.Sprintf("unknown value type %s", v.Type()))
	}
}

// double encodes non-finite values as the strings "NaN", "Infinity" and
// "-Infinity", which JSON numbers cannot hold.
func double(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func (e *encoder) structFields(s *concept.Struct) map[string]any {
	obj := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		if f.Value == nil {
			obj[f.Name] = nil
			continue
		}
		obj[f.Name] = e.value(*f.Value)
	}
	return obj
}
