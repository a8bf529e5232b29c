package kv

import (
	"errors"
	"testing"
)

func TestCheckArgs(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		values [][]byte
		ok     bool
	}{
		{"empty key", "", nil, false},
		{"key only", "k", nil, true},
		{"nil value", "k", [][]byte{nil}, false},
		{"empty value is allowed", "k", [][]byte{{}}, true},
		{"second nil", "k", [][]byte{[]byte("a"), nil}, false},
		{"two values", "k", [][]byte{[]byte("a"), []byte("b")}, true},
	}
	for _, tc := range cases {
		err := CheckArgs(tc.key, tc.values...)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: want ErrInvalidArgument, got %v", tc.name, err)
		}
	}
	if err := CheckKey(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("CheckKey(\"\") = %v", err)
	}
}

func TestEqualComparesContent(t *testing.T) {
	a := []byte("value")
	b := append([]byte(nil), a...)
	if !Equal(a, b) {
		t.Fatalf("equal content must compare equal")
	}
	if Equal(a, []byte("other")) {
		t.Fatalf("different content must not compare equal")
	}
}
