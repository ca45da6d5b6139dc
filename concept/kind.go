package concept

// Kind classifies a type concept.
type Kind int

const (
	KindEntity Kind = iota
	KindRelation
	KindAttribute
	KindRole
)

// Name returns the name used for the kind in documents.
func (k Kind) Name() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindRelation:
		return "relation"
	case KindAttribute:
		return "attribute"
	case KindRole:
		return "role"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	return k.Name()
}
