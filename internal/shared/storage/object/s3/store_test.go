package s3

import (
	"strings"
	"testing"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "scenarios/cache/cache.log", want: "scenarios/cache/cache.log"},
		{name: "simple prefix", prefix: "rca", key: "reports/run-1.json", want: "rca/reports/run-1.json"},
		{name: "prefix trailing slash", prefix: "rca/", key: "reports/run-1.json", want: "rca/reports/run-1.json"},
		{name: "prefix and key slashes", prefix: "/rca/", key: "/reports/run-1.json", want: "rca/reports/run-1.json"},
		{name: "empty key", prefix: "rca", key: "", want: "rca"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	c := &countingReader{r: strings.NewReader("redis slowlog")}
	buf := make([]byte, 4)
	for {
		if _, err := c.Read(buf); err != nil {
			break
		}
	}
	if c.n != int64(len("redis slowlog")) {
		t.Fatalf("expected %d bytes counted, got %d", len("redis slowlog"), c.n)
	}
}
