package events

import (
	"math/big"
	"testing"
)

func TestEventTypes(t *testing.T) {
	cases := []struct {
		evt  Event
		want string
	}{
		{EscrowCreated{}, TypeEscrowCreated},
		{EscrowDeposited{Amount: big.NewInt(1)}, TypeEscrowDeposited},
		{EscrowReleased{}, TypeEscrowReleased},
		{EscrowRefunded{}, TypeEscrowRefunded},
		{AgreementPaused{}, TypeAgreementPaused},
		{AgreementUnpaused{}, TypeAgreementUnpaused},
		{AgreementAdminTransferred{}, TypeAgreementAdminTransferred},
		{EmergencyWithdrawn{}, TypeEmergencyWithdrawn},
		{FactoryPaused{}, TypeFactoryPaused},
		{FactoryUnpaused{}, TypeFactoryUnpaused},
	}
	for _, tc := range cases {
		if got := tc.evt.EventType(); got != tc.want {
			t.Fatalf("EventType() = %q, want %q", got, tc.want)
		}
	}
}

func TestEmitterFunc(t *testing.T) {
	var received Event
	emitter := EmitterFunc(func(evt Event) { received = evt })
	emitter.Emit(EscrowCreated{CreatedAt: 7})
	created, ok := received.(EscrowCreated)
	if !ok || created.CreatedAt != 7 {
		t.Fatalf("received = %#v", received)
	}

	var nilEmitter EmitterFunc
	nilEmitter.Emit(EscrowCreated{}) // must not panic

	NoopEmitter{}.Emit(EscrowCreated{})
}
