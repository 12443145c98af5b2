package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID identifies a logical agent run. It is a KSUID rendered as a string so it
// sorts by creation time in logs.
type ID string

func (c ID) String() string {
	return string(c)
}

func (c ID) IsZero() bool {
	return c == ""
}

func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return ID(id.String()), nil
}

func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

func ParseID(s string) (ID, error) {
	id, err := ksuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse id %q: %w", s, err)
	}
	return ID(id.String()), nil
}
