package audit

import (
	"testing"
)

func TestNewSigner(t *testing.T) {
	secretKey := "test-secret-key"
	signer := NewSigner(secretKey)

	if signer == nil {
		t.Fatal("expected non-nil signer")
	}

	if string(signer.secretKey) != secretKey {
		t.Errorf("expected secret key %q, got %q", secretKey, string(signer.secretKey))
	}
}

func TestSigner_Sign(t *testing.T) {
	signer := NewSigner("test-secret")
	fields := [][]byte{[]byte("audit-123"), []byte("system:ingest"), []byte(`{"status":"processed"}`)}

	signature := signer.Sign(fields...)
	if len(signature) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(signature))
	}

	if signature != signer.Sign(fields...) {
		t.Error("expected deterministic signatures for same input")
	}

	if signature == signer.Sign([]byte("audit-124"), fields[1], fields[2]) {
		t.Error("expected different signatures for different ids")
	}
}

func TestSigner_FieldBoundaries(t *testing.T) {
	signer := NewSigner("test-secret")

	a := signer.Sign([]byte("ab"), []byte("c"))
	b := signer.Sign([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("expected field boundaries to affect the signature")
	}

	if signer.Sign(nil, []byte("x")) == signer.Sign([]byte("x")) {
		t.Error("expected an empty field to affect the signature")
	}
}

func TestSigner_Verify(t *testing.T) {
	signer := NewSigner("test-secret")
	fields := [][]byte{[]byte("audit-456"), []byte("ops@example.com")}

	signature := signer.Sign(fields...)

	tests := []struct {
		name      string
		signer    *Signer
		signature string
		fields    [][]byte
		want      bool
	}{
		{"valid", signer, signature, fields, true},
		{"tampered field", signer, signature, [][]byte{[]byte("audit-456"), []byte("root")}, false},
		{"tampered signature", signer, signature[:63] + "0", fields, signature[63] == '0'},
		{"wrong key", NewSigner("other-secret"), signature, fields, false},
		{"empty signature", signer, "", fields, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.signer.Verify(tt.signature, tt.fields...); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}
