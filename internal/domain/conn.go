package domain

import "github.com/google/uuid"

// ConnID identifies one transport connection for its whole lifetime.
type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}
