package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		conflict   bool
		notFound   bool
		version    bool
	}{
		{name: "qty invalid", err: ErrStockQtyInvalid, validation: true},
		{name: "wrapped offline method", err: fmt.Errorf("checkout: %w", ErrPaymentMethodOffline), validation: true},
		{name: "reserved underflow", err: ErrReservedUnderflow, conflict: true},
		{name: "transition", err: &TransitionError{Aggregate: "order", From: "PENDING", Event: "ship"}, conflict: true},
		{name: "order missing", err: ErrOrderNotFound, notFound: true},
		{name: "order version", err: errors.Join(ErrOrderVersionConflict, errors.New("ctx")), version: true},
		{name: "payment version", err: ErrPaymentVersionConflict, version: true},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.validation {
				t.Errorf("IsValidation() = %v, want %v", got, tt.validation)
			}
			if got := IsStateConflict(tt.err); got != tt.conflict {
				t.Errorf("IsStateConflict() = %v, want %v", got, tt.conflict)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.notFound)
			}
			if got := IsVersionConflict(tt.err); got != tt.version {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.version)
			}
		})
	}
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{Aggregate: "payment", From: "NONE", Event: "capture", Reason: "not authorized"}
	want := `payment: event "capture" is not allowed in state "NONE": not authorized`
	if err.Error() != want {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
