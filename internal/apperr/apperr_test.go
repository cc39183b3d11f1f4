package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestTaxonomy(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", Validationf("bad input %d", 7), IsValidation},
		{"not found", NotFound("product", 42), IsNotFound},
		{"conflict", Conflictf(int64(3), "taken"), IsConflict},
		{"infra", Infra("query", errors.New("disk io")), IsInfra},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.check(tc.err) {
				t.Errorf("%v not recognized by its own predicate", tc.err)
			}
		})
	}
}

func TestPredicatesAreExclusive(t *testing.T) {
	err := Validationf("nope")
	if IsNotFound(err) || IsConflict(err) || IsInfra(err) {
		t.Error("validation error matched a foreign predicate")
	}
}

func TestInfraWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Infra("latest prices", cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if Infra("op", nil) != nil {
		t.Error("nil cause should produce nil")
	}
}

func TestInfraSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", Infra("insert", errors.New("locked")))
	if !IsInfra(err) {
		t.Error("predicate should see through fmt.Errorf wrapping")
	}
}

func TestNotFoundMessage(t *testing.T) {
	if got := NotFound("product", 42).Error(); got != "product 42 not found" {
		t.Errorf("message = %q", got)
	}
}

func TestConflictCarriesExistingID(t *testing.T) {
	var conflict *ConflictError
	err := Conflictf("grp_1", "product 5 is already in group: grp_1")
	if !errors.As(err, &conflict) {
		t.Fatal("not a ConflictError")
	}
	if conflict.ExistingID != "grp_1" {
		t.Errorf("existing id = %v", conflict.ExistingID)
	}
}
