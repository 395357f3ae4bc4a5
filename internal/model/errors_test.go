package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op and kind only",
			err:  &Error{Op: "storage.load", Kind: KindSchemaMismatch},
			want: "storage.load: schema_mismatch",
		},
		{
			name: "with path and cause",
			err:  &Error{Op: "storage.open", Kind: KindStoreUnavailable, Path: "/etc/pihole/gravity.db", Err: errors.New("no such file")},
			want: "storage.open: store_unavailable (path=/etc/pihole/gravity.db): no such file",
		},
		{
			name: "with problems",
			err:  &Error{Op: "document.parse", Kind: KindMalformedDocument, Problems: []string{"a: bad", "b: worse"}},
			want: "document.parse: malformed_document\n  - a: bad\n  - b: worse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.err.Error()); diff != "" {
				t.Errorf("Error() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	base := &Error{Op: "op", Kind: KindIntegrityViolation}
	wrapped := fmt.Errorf("import: %w", base)

	if !IsKind(wrapped, KindIntegrityViolation) {
		t.Error("expected wrapped error to match its kind")
	}
	if IsKind(wrapped, KindSchemaMismatch) {
		t.Error("expected kind mismatch")
	}
	if IsKind(errors.New("plain"), KindIntegrityViolation) {
		t.Error("expected plain error not to match")
	}
}

func TestViolationsError(t *testing.T) {
	if err := ViolationsError("op", nil); err != nil {
		t.Fatalf("expected nil for no violations, got %v", err)
	}

	err := ViolationsError("op", Violations{{Path: "groups[0].name", Message: "required"}})
	if !IsKind(err, KindIntegrityViolation) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if diff := cmp.Diff([]string{"groups[0].name: required"}, e.Problems); diff != "" {
		t.Errorf("Problems mismatch (-want +got):\n%s", diff)
	}
}
