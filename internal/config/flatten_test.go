package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatten_Simple(t *testing.T) {
	input := map[string]any{
		"log_level":      "info",
		"max_concurrent": float64(4),
	}
	got := Flatten(input)
	if diff := cmp.Diff(input, got); diff != "" {
		t.Errorf("Flatten (-want +got):\n%s", diff)
	}
}

func TestFlatten_Nested(t *testing.T) {
	input := map[string]any{
		"matcher": map[string]any{
			"threshold": float64(60),
			"debug":     true,
		},
		"log_level": "info",
	}
	want := map[string]any{
		"matcher.threshold": float64(60),
		"matcher.debug":     true,
		"log_level":         "info",
	}
	if diff := cmp.Diff(want, Flatten(input)); diff != "" {
		t.Errorf("Flatten (-want +got):\n%s", diff)
	}
}

func TestFlatten_DeeplyNested(t *testing.T) {
	input := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "deep",
			},
		},
	}
	got := Flatten(input)
	if got["a.b.c"] != "deep" {
		t.Errorf("expected a.b.c=deep, got %v", got["a.b.c"])
	}
	if len(got) != 1 {
		t.Errorf("expected 1 key, got %d", len(got))
	}
}

func TestFlatten_EmptyMap(t *testing.T) {
	if got := Flatten(map[string]any{}); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestFlatten_EmptyNestedMap(t *testing.T) {
	input := map[string]any{"telegram": map[string]any{}}
	if got := Flatten(input); len(got) != 0 {
		t.Errorf("expected no keys for empty nested map, got %v", got)
	}
}

func TestUnflatten_Nested(t *testing.T) {
	input := map[string]any{
		"http.listen":      ":8080",
		"http.enabled":     true,
		"reminders.notify": false,
		"timezone":         "UTC",
	}
	want := map[string]any{
		"http": map[string]any{
			"listen":  ":8080",
			"enabled": true,
		},
		"reminders": map[string]any{"notify": false},
		"timezone":  "UTC",
	}
	if diff := cmp.Diff(want, Unflatten(input)); diff != "" {
		t.Errorf("Unflatten (-want +got):\n%s", diff)
	}
}

func TestUnflatten_ScalarReplacedByMap(t *testing.T) {
	input := map[string]any{
		"a":   "scalar",
		"a.b": "nested",
	}
	// Iteration order decides which one wins.
	got := Unflatten(input)
	if _, ok := got["a"]; !ok {
		t.Error("expected key a to be present")
	}
}

func TestUnflatten_EmptyMap(t *testing.T) {
	if got := Unflatten(map[string]any{}); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original, err := ToMap(Defaults())
	if err != nil {
		t.Fatal(err)
	}
	restored := Unflatten(Flatten(original))
	if diff := cmp.Diff(original, restored); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestIsSecretKey(t *testing.T) {
	if !IsSecretKey("telegram.token") {
		t.Error("telegram.token should be secret")
	}
	if IsSecretKey("http.listen") {
		t.Error("http.listen should not be secret")
	}
}

func TestMaskSecrets(t *testing.T) {
	input := map[string]any{
		"telegram.token":    "123456:ABC-secret",
		"matcher.threshold": float64(60),
	}
	got := MaskSecrets(input)
	if got["telegram.token"] != "***cret" {
		t.Errorf("expected telegram.token=***cret, got %v", got["telegram.token"])
	}
	if got["matcher.threshold"] != float64(60) {
		t.Errorf("expected non-secret unchanged, got %v", got["matcher.threshold"])
	}
	if input["telegram.token"] != "123456:ABC-secret" {
		t.Error("MaskSecrets must not modify its input")
	}
}

func TestMaskSecrets_EmptySecret(t *testing.T) {
	got := MaskSecrets(map[string]any{"telegram.token": ""})
	if got["telegram.token"] != "" {
		t.Errorf("expected empty string to remain empty, got %v", got["telegram.token"])
	}
}

func TestMaskSecrets_ShortSecret(t *testing.T) {
	got := MaskSecrets(map[string]any{"telegram.token": "ab"})
	if got["telegram.token"] != "***ab" {
		t.Errorf("expected ***ab for short secret, got %v", got["telegram.token"])
	}
}

func TestMaskSecrets_ExactlyFourChars(t *testing.T) {
	got := MaskSecrets(map[string]any{"telegram.token": "abcd"})
	if got["telegram.token"] != "***abcd" {
		t.Errorf("expected ***abcd for 4-char secret, got %v", got["telegram.token"])
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]any{"b.x": 1, "a": 2, "b.a": 3})
	if diff := cmp.Diff([]string{"a", "b.a", "b.x"}, got); diff != "" {
		t.Errorf("SortedKeys (-want +got):\n%s", diff)
	}
}

func TestKnownKeysCoverDefaults(t *testing.T) {
	known := knownKeys()
	for _, k := range []string{"log_level", "matcher.threshold", "telegram.token", "reminders.default_time"} {
		if _, ok := known[k]; !ok {
			t.Errorf("expected %s to be a known key", k)
		}
	}
	if v, err := coerce("max_concurrent", "8"); err != nil || v != float64(8) {
		t.Errorf("coerce max_concurrent: got %v, %v", v, err)
	}
	if v, err := coerce("timezone", "true"); err != nil || v != "true" {
		t.Errorf("string keys keep raw text: got %v (%T), %v", v, v, err)
	}
}
