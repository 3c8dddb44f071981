package auth

import "testing"

func TestPreviewCodeRoundTrip(t *testing.T) {
	signer, err := NewPreviewSigner("", "app-secret")
	if err != nil {
		t.Fatalf("NewPreviewSigner() error = %v", err)
	}
	code := signer.Code("hearing-1")
	if !signer.Verify("hearing-1", code) {
		t.Fatal("expected code to verify for its own id")
	}
	if signer.Verify("hearing-2", code) {
		t.Fatal("expected code to fail for a different id")
	}
	if signer.Verify("hearing-1", "") {
		t.Fatal("expected empty code to fail")
	}
}

func TestPreviewCodeBitFlipFails(t *testing.T) {
	signer, err := NewPreviewSigner("dedicated", "")
	if err != nil {
		t.Fatalf("NewPreviewSigner() error = %v", err)
	}
	code := []byte(signer.Code("hearing-1"))
	for i := range code {
		mutated := append([]byte(nil), code...)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if signer.Verify("hearing-1", string(mutated)) {
			t.Fatalf("expected mutated code at %d to fail", i)
		}
	}
}

func TestPreviewKeyDerivedFromSecret(t *testing.T) {
	a, _ := NewPreviewSigner("", "secret-a")
	b, _ := NewPreviewSigner("", "secret-b")
	if a.Code("h") == b.Code("h") {
		t.Fatal("expected different secrets to produce different codes")
	}
	if _, err := NewPreviewSigner("", ""); err == nil {
		t.Fatal("expected error without any secret")
	}
}
