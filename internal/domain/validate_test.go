package domain

import (
	"errors"
	"testing"
)

func TestValidateName(t *testing.T) {
	got, err := ValidateName("team", "  Quizzly Bears ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Quizzly Bears" {
		t.Fatalf("expected trimmed name, got %q", got)
	}

	_, err = ValidateName("team", "   ")
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %T", err)
	}
}

func TestValidateEmail(t *testing.T) {
	if got, err := ValidateEmail(""); err != nil || got != "" {
		t.Fatalf("empty email must be accepted, got %q %v", got, err)
	}
	if _, err := ValidateEmail("captain@example.com"); err != nil {
		t.Fatalf("expected valid email, got %v", err)
	}
	for _, bad := range []string{"nope", "a@", "Bob <bob@example.com>"} {
		if _, err := ValidateEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail for %q, got %v", bad, err)
		}
	}
}

func TestValidatePointsAndCap(t *testing.T) {
	if err := ValidatePoints(0); err != nil {
		t.Fatalf("zero points must be valid: %v", err)
	}
	if err := ValidatePoints(-1); !errors.Is(err, ErrNegativePoints) {
		t.Fatalf("expected ErrNegativePoints, got %v", err)
	}
	if err := ValidateMaxPoints(nil); err != nil {
		t.Fatalf("nil cap must be valid: %v", err)
	}
	neg := -5
	if err := ValidateMaxPoints(&neg); !errors.Is(err, ErrInvalidMaxPoints) {
		t.Fatalf("expected ErrInvalidMaxPoints, got %v", err)
	}
}

func TestTeamCloneDoesNotAlias(t *testing.T) {
	team := Team{
		ID:        "t1",
		Confirmed: map[string]bool{"q1": true},
		Scores:    []RoundScore{{RoundID: "r1", Points: 3}},
	}
	clone := team.Clone()
	clone.Confirmed["q1"] = false
	clone.Scores[0].Points = 9

	if !team.Confirmed["q1"] || team.Scores[0].Points != 3 {
		t.Fatalf("clone mutated original: %+v", team)
	}
}
