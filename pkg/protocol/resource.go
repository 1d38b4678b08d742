package protocol

import "encoding"

// Resource is a typed data artifact. The engine only looks at its type and
// identity; content goes through the binary marshalers to the blob store.
type Resource interface {
	ResourceType() string
	// ResourceID is empty for a resource that was never persisted.
	ResourceID() string
	SetResourceID(id string)

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// ResourceFactory creates empty resources of one type for deserialization.
type ResourceFactory interface {
	Type() string
	New() Resource
}

// BaseResource provides the identity half of the Resource interface.
type BaseResource struct {
	id string
}

func (b *BaseResource) ResourceID() string {
	return b.id
}

func (b *BaseResource) SetResourceID(id string) {
	b.id = id
}

// ResourceFactoryFunc adapts a constructor to ResourceFactory.
type ResourceFactoryFunc struct {
	TypeName string
	NewFunc  func() Resource
}

func (f ResourceFactoryFunc) Type() string {
	return f.TypeName
}

func (f ResourceFactoryFunc) New() Resource {
	return f.NewFunc()
}
