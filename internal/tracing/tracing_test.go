package tracing

import "testing"

func TestEndpointHost(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://otel-collector:4318", "otel-collector:4318"},
		{"https://traces.example.com", "traces.example.com"},
		{"otel-collector:4318", "otel-collector:4318"},
	}
	for _, c := range cases {
		if got := endpointHost(c.in); got != c.want {
			t.Errorf("endpointHost(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
