package templates_test

import (
	"reflect"
	"testing"

	"github.com/fleetcron/fleetcron/internal/templates"
)

var secrets = map[string]string{
	"TOKEN": "s3cr3t",
	"HOST":  "api.example.com",
}

func TestResolveString(t *testing.T) {
	got := templates.ResolveString("https://{{HOST}}/v1?key={{TOKEN}}", secrets)
	want := "https://api.example.com/v1?key=s3cr3t"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolveString_AbsentKeyIsNoop(t *testing.T) {
	in := "value is {{MISSING}}"
	if got := templates.ResolveString(in, secrets); got != in {
		t.Fatalf("got %q, want unchanged %q", got, in)
	}
}

func TestResolve_RecursesMapsAndSlices(t *testing.T) {
	in := map[string]any{
		"url": "https://{{HOST}}/hook",
		"headers": map[string]string{
			"Authorization": "Bearer {{TOKEN}}",
		},
		"list":  []any{"{{TOKEN}}", 42, true},
		"count": 7,
	}

	got := templates.Resolve(in, secrets)

	want := map[string]any{
		"url": "https://api.example.com/hook",
		"headers": map[string]string{
			"Authorization": "Bearer s3cr3t",
		},
		"list":  []any{"s3cr3t", 42, true},
		"count": 7,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"k": "{{TOKEN}}"}
	_ = templates.Resolve(in, secrets)
	if in["k"] != "{{TOKEN}}" {
		t.Fatalf("input mutated: %v", in["k"])
	}
}

func TestResolve_NonStringScalarsPassThrough(t *testing.T) {
	for _, v := range []any{42, 3.14, true, nil} {
		if got := templates.Resolve(v, secrets); !reflect.DeepEqual(got, v) {
			t.Fatalf("scalar %v changed to %v", v, got)
		}
	}
}

func TestResolve_Idempotent(t *testing.T) {
	in := map[string]any{
		"a": "x {{TOKEN}} y",
		"b": []any{"{{HOST}}"},
	}
	once := templates.Resolve(in, secrets)
	twice := templates.Resolve(once, secrets)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("resolve not idempotent: %#v vs %#v", once, twice)
	}
}
