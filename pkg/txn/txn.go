// Package txn defines the opaque transaction identity and page permission
// vocabulary that the storage layer threads through to its buffer pool
// collaborator, without knowing anything about how transactions are
// actually scheduled or aborted.
package txn

import "github.com/google/uuid"

// ID is an opaque transaction token. The heap file and B+-tree packages
// never inspect it beyond equality and passing it through to the buffer
// pool — grounded on the uuid.UUID identifier pattern used for opaque ids
// in SimonWaldherr-tinySQL's storage package.
type ID struct {
	u uuid.UUID
}

// New mints a fresh transaction id.
func New() ID { return ID{u: uuid.New()} }

func (t ID) String() string { return t.u.String() }

func (t ID) Equal(o ID) bool { return t.u == o.u }

// Permission requests a page under shared (read-only) or exclusive
// (read/write) access.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) String() string {
	if p == ReadWrite {
		return "read-write"
	}
	return "read-only"
}
