package main

import "testing"

func TestWebsocketURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://127.0.0.1:8090", "ws://127.0.0.1:8090/v1/runs/ws"},
		{"https://synapse.example.com", "wss://synapse.example.com/v1/runs/ws"},
		{"ws://localhost:8090", "ws://localhost:8090/v1/runs/ws"},
	}
	for _, tc := range cases {
		got, err := websocketURL(tc.in)
		if err != nil {
			t.Fatalf("websocketURL(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("websocketURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := websocketURL("ftp://nope"); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{100, 200, 300, 400}
	if got := percentile(sorted, 0.50); got != 250 {
		t.Fatalf("p50 = %.1f, want 250", got)
	}
	if got := percentile(sorted, 0); got != 100 {
		t.Fatalf("p0 = %.1f, want 100", got)
	}
	if got := percentile(sorted, 1); got != 400 {
		t.Fatalf("p100 = %.1f, want 400", got)
	}
}
