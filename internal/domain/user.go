// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen      = 36
	MaxDisplayNameLen = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrUnknownRole        = errors.New("unknown role")
)

type UserID string

// Role distinguishes the two participant kinds of the clinic platform.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDoctor, RolePatient:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

// Participant is one side of a call as shown to the other side.
type Participant struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(name string, role Role) (Participant, error) {
	if len(name) == 0 {
		return Participant{}, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return Participant{}, ErrDisplayNameTooLong
	}
	return Participant{ID: UserID(uuid.NewString()), Name: name, Role: role}, nil
}
