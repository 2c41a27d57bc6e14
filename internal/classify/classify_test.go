package classify

import "testing"

func TestPHState(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{7.0, Normal},
		{6.4, Low},
		{6.5, Normal},
		{8.5, Normal},
		{8.6, High},
		{0, Low},
	}
	for _, tc := range cases {
		if got := PHState(tc.in); got != tc.want {
			t.Errorf("PHState(%v)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTDSState(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{499, Normal},
		{500, Normal},
		{501, High},
		{49, Low},
		{50, Normal},
	}
	for _, tc := range cases {
		if got := TDSState(tc.in); got != tc.want {
			t.Errorf("TDSState(%v)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTurbidityState_NeverLow(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, Normal},
		{-3, Normal},
		{10, Normal},
		{500, Normal},
		{500.5, High},
	}
	for _, tc := range cases {
		if got := TurbidityState(tc.in); got != tc.want {
			t.Errorf("TurbidityState(%v)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestState_DispatchesBySensor(t *testing.T) {
	if got := State(PH, 9); got != High {
		t.Fatalf("ph 9: got %q", got)
	}
	if got := State(TDS, 10); got != Low {
		t.Fatalf("tds 10: got %q", got)
	}
	if got := State(Turbidity, 600); got != High {
		t.Fatalf("turbidity 600: got %q", got)
	}
	if got := State(Sensor("flow"), 1e9); got != Normal {
		t.Fatalf("unknown sensor: got %q", got)
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	g, ok := Lookup("  Turbidity ")
	if !ok {
		t.Fatalf("turbidity not found")
	}
	if g.Unit != "NTU" || g.Scale.Max != 1000 {
		t.Fatalf("unexpected gauge: %+v", g)
	}
	if _, ok := Lookup("volume"); ok {
		t.Fatalf("volume has no gauge")
	}
}

// The normal band of each gauge must agree with the classifier at its edges.
func TestGaugeNormalBandMatchesClassifier(t *testing.T) {
	for s, g := range gauges {
		if got := State(s, g.Normal.Min); got != Normal {
			t.Errorf("%s at normal min %v classified %q", s, g.Normal.Min, got)
		}
		if got := State(s, g.Normal.Max); got != Normal {
			t.Errorf("%s at normal max %v classified %q", s, g.Normal.Max, got)
		}
		if got := State(s, g.Normal.Max+1); got != High {
			t.Errorf("%s above normal max classified %q", s, got)
		}
	}
}
