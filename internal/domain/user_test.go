package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"doctor", "patient"} {
		r, err := ParseRole(s)
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", s, err)
		}
		if string(r) != s {
			t.Fatalf("ParseRole(%q) = %q", s, r)
		}
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("err = %v, want ErrUnknownRole", err)
	}
}

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("Dr. Alice", RoleDoctor)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" || p.Name != "Dr. Alice" || p.Role != RoleDoctor {
		t.Fatalf("participant = %+v", p)
	}

	if _, err := NewParticipant("", RolePatient); !errors.Is(err, ErrDisplayNameEmpty) {
		t.Fatalf("err = %v, want ErrDisplayNameEmpty", err)
	}
	if _, err := NewParticipant(strings.Repeat("x", MaxDisplayNameLen+1), RolePatient); !errors.Is(err, ErrDisplayNameTooLong) {
		t.Fatalf("err = %v, want ErrDisplayNameTooLong", err)
	}
}
