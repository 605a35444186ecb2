package executor

import "testing"

func TestNormalizeOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"crlf", "a\r\nb\r\n", "a\nb"},
		{"bare cr", "a\rb\r", "a\nb"},
		{"trailing newlines", "42\n\n\n", "42"},
		{"surrounding spaces", "  42  ", "42"},
		{"interior whitespace kept", "1 2\n3 4", "1 2\n3 4"},
		{"empty", "", ""},
		{"only whitespace", " \n\t\r\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeOutput(tt.in); got != tt.want {
				t.Fatalf("NormalizeOutput(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeOutputIdempotent(t *testing.T) {
	inputs := []string{"a\r\nb", "  x  ", "1\n2\n\n", "", "already clean"}
	for _, in := range inputs {
		once := NormalizeOutput(in)
		if twice := NormalizeOutput(once); twice != once {
			t.Fatalf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestOutputsMatch(t *testing.T) {
	if !OutputsMatch("42\r\n", "42") {
		t.Fatal("CRLF output should match LF expected")
	}
	if !OutputsMatch("", "\n") {
		t.Fatal("empty output should match whitespace-only expected")
	}
	if OutputsMatch("4 2", "42") {
		t.Fatal("interior whitespace must remain significant")
	}
}

func TestExtractCaseTime(t *testing.T) {
	ms, rest := extractCaseTime("ZeroDivisionError\n" + caseTimeMarker + " 125\n")
	if ms != 125 {
		t.Fatalf("expected 125, got %d", ms)
	}
	if rest != "ZeroDivisionError" {
		t.Fatalf("marker line not stripped: %q", rest)
	}

	ms, rest = extractCaseTime("timeout")
	if ms != -1 || rest != "timeout" {
		t.Fatalf("expected passthrough on missing marker, got %d %q", ms, rest)
	}
}
