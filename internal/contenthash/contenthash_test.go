package contenthash

import "testing"

func TestComputeDeterministic(t *testing.T) {
	a := Compute("hello world\n")
	b := Compute("hello world\n")
	if a != b {
		t.Fatalf("expected identical hashes, got %q and %q", a, b)
	}
}

func TestComputeTrimsTrailingWhitespaceOnly(t *testing.T) {
	a := Compute("hello world")
	b := Compute("hello world   \n\t")
	if a != b {
		t.Fatalf("expected trailing whitespace to be insignificant: %q vs %q", a, b)
	}
}

func TestComputePreservesInternalWhitespace(t *testing.T) {
	a := Compute("hello   world")
	b := Compute("hello world")
	if a == b {
		t.Fatalf("expected internal whitespace differences to change the hash")
	}
}

func TestComputeDiffersOnContentChange(t *testing.T) {
	a := Compute("alpha")
	b := Compute("beta")
	if a == b {
		t.Fatalf("expected different content to hash differently")
	}
}
