// Package answer holds query results in their generic tree form and encodes
// them into self-describing documents.
package answer

import (
	"encoding/json"

	"github.com/goccy/go-yaml"

	"github.com/tomyedwab/dbbridge/concept"
)

// QueryType classifies the query that produced a result.
type QueryType int

const (
	QueryTypeRead QueryType = iota
	QueryTypeWrite
	QueryTypeSchema
)

func (q QueryType) String() string {
	switch q {
	case QueryTypeRead:
		return "read"
	case QueryTypeWrite:
		return "write"
	case QueryTypeSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// ConceptDocumentHeader carries the query metadata. One header is shared by
// every document produced by the same query.
type ConceptDocumentHeader struct {
	QueryType QueryType
}

// ConceptDocument is a single document of concepts substituted for the
// variables of a query.
type ConceptDocument struct {
	header *ConceptDocumentHeader
	Root   Node // nil when the query produced no document body
}

func NewConceptDocument(header *ConceptDocumentHeader, root Node) *ConceptDocument {
	return &ConceptDocument{header: header, Root: root}
}

// Header returns the shared header.
func (d *ConceptDocument) Header() *ConceptDocumentHeader {
	return d.header
}

// QueryType returns the type of the query that produced the document.
func (d *ConceptDocument) QueryType() QueryType {
	return d.header.QueryType
}

// JSON encodes the document into a generic tree. A document without a root
// encodes to nil.
func (d *ConceptDocument) JSON(opts ...EncodeOption) any {
	if d.Root == nil {
		return nil
	}
	return d.Root.JSON(opts...)
}

// Validate reports the first instance leaf in the document, which would make
// JSON panic.
func (d *ConceptDocument) Validate() error {
	if d.Root == nil {
		return nil
	}
	return d.Root.Validate()
}

// MarshalJSON renders the document with the legacy integer widening. A
// document holding instance leaves is rejected with a *ContractViolation.
func (d *ConceptDocument) MarshalJSON() ([]byte, error) {
	return d.FormatJSON()
}

// FormatJSON renders the encoded document as JSON text.
func (d *ConceptDocument) FormatJSON(opts ...EncodeOption) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d.JSON(opts...))
}

// FormatYAML renders the encoded document as YAML.
func (d *ConceptDocument) FormatYAML(opts ...EncodeOption) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return yaml.Marshal(d.JSON(opts...))
}

// Node is one node of the result tree: a MapNode, a ListNode or a LeafNode.
type Node interface {
	// JSON encodes the node and its children. It panics with a
	// *ContractViolation on entity or relation instances.
	JSON(opts ...EncodeOption) any
	// Validate reports the first leaf JSON would reject.
	Validate() error
	isNode()
}

// MapNode maps variable or field names to child nodes.
type MapNode map[string]Node

// ListNode is an ordered list of child nodes.
type ListNode []Node

// LeafNode is a terminal node. A nil Leaf stands for an absent substitution.
type LeafNode struct {
	Leaf *Leaf
}

func (MapNode) isNode()  {}
func (ListNode) isNode() {}
func (LeafNode) isNode() {}

// NewLeafNode wraps a leaf in a node.
func NewLeafNode(l Leaf) LeafNode {
	return LeafNode{Leaf: &l}
}

// AbsentNode returns a leaf node without a leaf.
func AbsentNode() LeafNode {
	return LeafNode{}
}

// LeafKind tells which variant a Leaf holds.
type LeafKind int

const (
	LeafEmpty LeafKind = iota
	LeafConcept
	LeafValueType
	LeafKindDescriptor
)

// Leaf is a terminal value of the result tree.
type Leaf struct {
	kind      LeafKind
	concept   concept.Concept
	valueType concept.ValueType
	typeKind  concept.Kind
}

func EmptyLeaf() Leaf {
	return Leaf{kind: LeafEmpty}
}

func ConceptLeaf(c concept.Concept) Leaf {
	return Leaf{kind: LeafConcept, concept: c}
}

func ValueTypeLeaf(vt concept.ValueType) Leaf {
	return Leaf{kind: LeafValueType, valueType: vt}
}

func KindLeaf(k concept.Kind) Leaf {
	return Leaf{kind: LeafKindDescriptor, typeKind: k}
}

func (l Leaf) Kind() LeafKind {
	return l.kind
}

// Concept returns the concept of a LeafConcept leaf, nil otherwise.
func (l Leaf) Concept() concept.Concept {
	return l.concept
}
