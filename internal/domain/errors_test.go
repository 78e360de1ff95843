package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeliveryErrorUnwrap(t *testing.T) {
	inner := ErrMessengerDisabled
	err := &DeliveryError{ClientID: 7, Op: "send", Err: inner}
	if !errors.Is(err, ErrMessengerDisabled) {
		t.Fatalf("expected errors.Is to match wrapped sentinel")
	}
	if got := err.Error(); got != "client 7: send: messenger delivery disabled" {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestDeliveryErrorWithoutClient(t *testing.T) {
	err := &DeliveryError{Op: "enqueue", Err: fmt.Errorf("boom")}
	if got := err.Error(); got != "enqueue: boom" {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestValidConnectionState(t *testing.T) {
	for _, s := range []ConnectionState{StateUp, StateDown, StateUnknown} {
		if !ValidConnectionState(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if ValidConnectionState("SPIKING") {
		t.Fatalf("expected unrecognized state to be invalid")
	}
}

func TestValidBillingStatus(t *testing.T) {
	for _, s := range []BillingStatus{BillingPaid, BillingUnpaid, BillingLimited, BillingCutoff, BillingUnknown} {
		if !ValidBillingStatus(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if ValidBillingStatus("DUE") {
		t.Fatalf("expected unrecognized status to be invalid")
	}
}
