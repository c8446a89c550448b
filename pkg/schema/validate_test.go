package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const goodTest = `
name: json pipeline
description: bytes through the json decoder
steps:
  - name: src
    sender:
      expr: 'b"{\"key\":\"value\"}"'
  - name: t
    transform_stream:
      in: steps.src.out
      flavour: json
  - name: a
    assertion:
      expr: 'steps.t.out[0] == {"key": "value"}'
`

func TestLoadAndValidateGoodFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good.yaml")
	if err := os.WriteFile(path, []byte(goodTest), 0o644); err != nil {
		t.Fatal(err)
	}

	test, errs := ValidateFile(path)
	if len(errs) > 0 {
		t.Fatalf("valid file rejected: %v", errs)
	}
	if test.Name != "json pipeline" || len(test.Steps) != 3 {
		t.Fatalf("loaded wrong test: %+v", test)
	}
}

func TestStrictDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Load([]byte("name: x\nbogus_field: 1\nsteps: []\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateReportsUnknownStepReference(t *testing.T) {
	test, err := Load([]byte(`
name: dangling
steps:
  - name: a
    assertion:
      expr: steps.ghost.out[0] == 1
`))
	if err != nil {
		t.Fatal(err)
	}
	errs := Validate(test)
	if len(errs) == 0 {
		t.Fatal("dangling reference accepted")
	}
	if !strings.Contains(errs[0].Message, "ghost") {
		t.Errorf("unhelpful message: %v", errs[0])
	}
}

func TestValidateReportsUnknownChannel(t *testing.T) {
	test, err := Load([]byte(`
name: wrong channel
steps:
  - name: src
    sender:
      expr: "1"
  - name: a
    assertion:
      expr: steps.src.stdout[0] == 1
`))
	if err != nil {
		t.Fatal(err)
	}
	errs := Validate(test)
	if len(errs) == 0 {
		t.Fatal("unknown channel accepted")
	}
}

func TestValidateReportsParseError(t *testing.T) {
	test, err := Load([]byte(`
name: broken expression
steps:
  - name: a
    sender:
      expr: "1 +"
`))
	if err != nil {
		t.Fatal(err)
	}
	errs := Validate(test)
	if len(errs) == 0 {
		t.Fatal("malformed expression accepted")
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	out, err := GenerateJSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"sender", "transform_stream", "assertion", "steps"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
