package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("prod_")
	if !strings.HasPrefix(id, "prod_") {
		t.Fatalf("id %q missing prefix", id)
	}
	if len(id) != len("prod_")+24 {
		t.Fatalf("id %q has wrong length %d", id, len(id))
	}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("wh_")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
