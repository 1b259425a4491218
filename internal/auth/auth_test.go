package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/binlink/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseBearer(t *testing.T) {
	testlog.Start(t)
	if got, err := ParseBearer("Bearer s3cret"); err != nil || got != "s3cret" {
		t.Fatalf("got=(%q,%v)", got, err)
	}
	if got, err := ParseBearer("  bearer   spaced  "); err != nil || got != "spaced" {
		t.Fatalf("case/space handling got=(%q,%v)", got, err)
	}
	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic abc", "s3cret"} {
		if _, err := ParseBearer(header); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("header %q: expected ErrMissingCredentials, got %v", header, err)
		}
	}
}

func TestCheckHeader(t *testing.T) {
	testlog.Start(t)
	calls := 0
	validator := FuncValidator(func(token string) error {
		calls++
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := CheckHeader(validator, "Bearer bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := CheckHeader(validator, "Bearer ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
	if err := CheckHeader(validator, ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("validator called %d times, want 2", calls)
	}
}
