package models

import (
	"fmt"
	"strings"
)

// OwnerKind enumerates the record types that can own assistants and threads or author messages.
type OwnerKind string

const (
	OwnerUser         OwnerKind = "user"
	OwnerTeam         OwnerKind = "team"
	OwnerOrganization OwnerKind = "organization"
	OwnerSystem       OwnerKind = "system"
)

// Owner is a typed reference to the owning or authoring record.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID
}

// ParseOwner reads the "kind:id" form produced by Owner.String.
func ParseOwner(s string) (Owner, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Owner{}, fmt.Errorf("invalid owner reference %q", s)
	}
	switch k := OwnerKind(kind); k {
	case OwnerUser, OwnerTeam, OwnerOrganization, OwnerSystem:
		return Owner{Kind: k, ID: id}, nil
	default:
		return Owner{}, fmt.Errorf("unknown owner kind %q", kind)
	}
}
