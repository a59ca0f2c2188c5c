package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "goauthclient_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q must be goauthclient_*_total", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate metric name %q", def.Name)
		}
		seen[def.Name] = true
	}
	if seen[AuditDroppedName] {
		t.Fatalf("%s collides with a client counter", AuditDroppedName)
	}
}

func TestLatencyLabels(t *testing.T) {
	want := []string{"0.05", "0.1", "0.25", "0.5", "1", "2.5", "5", "+Inf"}
	if len(LatencyLabels) != len(want) {
		t.Fatalf("got %d labels, want %d", len(LatencyLabels), len(want))
	}
	for i, label := range LatencyLabels {
		if label != want[i] {
			t.Fatalf("label %d = %q, want %q", i, label, want[i])
		}
	}
}

func TestInstrumentSuffix(t *testing.T) {
	for label, want := range map[string]string{"0.05": "0_05", "2.5": "2_5", "1": "1", "+Inf": "inf"} {
		if got := InstrumentSuffix(label); got != want {
			t.Fatalf("InstrumentSuffix(%q) = %q, want %q", label, got, want)
		}
	}
}
