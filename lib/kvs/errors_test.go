package kvs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := NewError(RetCConflict, "lost the race")
	want := "KVSError (code Conflict): lost the race"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	err = NewErrorf(RetCEncoding, "bad stamp length %d", 7)
	if err.Code != RetCEncoding {
		t.Errorf("expected code %v, got %v", RetCEncoding, err.Code)
	}
	if err.Msg != "bad stamp length 7" {
		t.Errorf("unexpected message %q", err.Msg)
	}
}

func TestPredicates(t *testing.T) {
	checks := []struct {
		err  error
		pred func(error) bool
	}{
		{NewError(RetCConflict, ""), IsConflict},
		{NewError(RetCTxClosed, ""), IsTxClosed},
		{NewError(RetCTxReadonly, ""), IsTxReadonly},
		{NewError(RetCHorizonExceeded, ""), IsHorizonExceeded},
		{NewError(RetCKeyAlreadyExists, ""), IsKeyAlreadyExists},
		{NewError(RetCConditionNotMet, ""), IsConditionNotMet},
		{NewError(RetCBackendUnavailable, ""), IsBackendUnavailable},
	}

	for i, c := range checks {
		if !c.pred(c.err) {
			t.Errorf("check %d: expected predicate to match %v", i, c.err)
		}
	}

	// predicates must see through error wrapping
	wrapped := fmt.Errorf("commit failed: %w", NewError(RetCConflict, "lost the race"))
	if !IsConflict(wrapped) {
		t.Errorf("expected IsConflict to match the wrapped error")
	}

	if IsConflict(nil) {
		t.Errorf("expected no predicate to match nil")
	}
	if IsConflict(errors.New("some foreign error")) {
		t.Errorf("expected foreign errors not to match")
	}
}

func TestRetCodeString(t *testing.T) {
	if RetCConflict.String() != "Conflict" {
		t.Errorf("unexpected name %q", RetCConflict.String())
	}
	if RetCode(999).String() != "Unknown" {
		t.Errorf("expected unknown codes to stringify as Unknown")
	}
}
