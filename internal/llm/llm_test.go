package llm

import "testing"

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: `{"a":1}`, want: `{"a":1}`},
		{input: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{input: `Sure! Here it is: {"a":1} hope that helps`, want: `{"a":1}`},
	}
	for _, tc := range cases {
		got, ok := ExtractJSONObject(tc.input)
		if !ok || got != tc.want {
			t.Fatalf("ExtractJSONObject(%q) = %q, %v; want %q", tc.input, got, ok, tc.want)
		}
	}
	if _, ok := ExtractJSONObject("no json here"); ok {
		t.Fatal("expected no object in plain text")
	}
}
