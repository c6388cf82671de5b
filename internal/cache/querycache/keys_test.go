package querycache

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("heatmap", "max_lat=56&max_lon=13&min_lat=55&min_lon=12&window=24h&zoom=10")
	k2 := Key("heatmap", "max_lat=56&max_lon=13&min_lat=55&min_lon=12&window=24h&zoom=10")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestKey_WhitespaceVariantsProduceSameKey(t *testing.T) {
	k1 := Key("density", "  max_lat=56 min_lat=55 ")
	k2 := Key("density", "max_lat=56   min_lat=55")
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestKey_DifferentParamsAreDifferent(t *testing.T) {
	k1 := Key("heatmap", "window=24h&zoom=10")
	k2 := Key("heatmap", "window=24h&zoom=11")
	if k1 == k2 {
		t.Fatalf("different params must produce different keys")
	}
	if Key("heatmap", "window=24h") == Key("density", "window=24h") {
		t.Fatalf("different endpoints must produce different keys")
	}
}

func TestKey_UnicodeSafetyAndHashSuffix(t *testing.T) {
	k := Key("location", "lat=57.7&lon=11.9&city=Göteborg&note=雪")

	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}

	m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k)
	if len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}

	if !strings.HasPrefix(k, "aq:q:location:") {
		t.Fatalf("missing endpoint segment in key: %s", k)
	}
}

func TestKey_LongParamsTruncatedButDistinct(t *testing.T) {
	long := strings.Repeat("zoom=10&", 40)
	k1 := Key("heatmap", long+"window=24h")
	k2 := Key("heatmap", long+"window=48h")
	if k1 == k2 {
		t.Fatalf("keys differing past the readable cap must stay distinct")
	}
}
