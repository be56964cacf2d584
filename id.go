package sitetheory

import "github.com/oklog/ulid/v2"

// IDGenerator provides run ids for correlating the log entries of one apply.
type IDGenerator interface {
	NewID() string
}

// ULIDGenerator generates lexically sortable run ids.
type ULIDGenerator struct{}

func (ULIDGenerator) NewID() string {
	return ulid.Make().String()
}
