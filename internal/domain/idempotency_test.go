package domain

import "testing"

func TestEventResultValid(t *testing.T) {
	tests := []struct {
		name   string
		result EventResult
		want   bool
	}{
		{name: "applied", result: EventResultApplied, want: true},
		{name: "ignored", result: EventResultIgnored, want: true},
		{name: "duplicate", result: EventResultDuplicate, want: true},
		{name: "invalid", result: EventResult("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.Valid(); got != tc.want {
				t.Fatalf("result %q valid=%v, want %v", tc.result, got, tc.want)
			}
		})
	}
}

func TestGatewayEventTypeOutcome(t *testing.T) {
	tests := []struct {
		eventType GatewayEventType
		want      GatewayOutcome
		known     bool
	}{
		{eventType: GatewayEventAuthorizationSucceeded, want: GatewayOutcomeSucceeded, known: true},
		{eventType: GatewayEventAuthorizationFailed, want: GatewayOutcomeFailed, known: true},
		{eventType: GatewayEventAuthorizationRefunded, want: GatewayOutcomeRefunded, known: true},
		{eventType: GatewayEventType("customer.created"), known: false},
	}

	for _, tc := range tests {
		got, known := tc.eventType.Outcome()
		if known != tc.known || got != tc.want {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", tc.eventType, got, known, tc.want, tc.known)
		}
	}
}
