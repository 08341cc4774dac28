package kvs

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncode_EmptyMap(t *testing.T) {
	blob, err := Encode(map[string][]byte{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(blob) != "{}" {
		t.Fatalf("Expected {}, got %s", blob)
	}

	table, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("Expected empty table, got %d pairs", table.Len())
	}
}

func TestEncode_NilMap(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("Encode should reject a nil map")
	}
}

func TestRoundTrip(t *testing.T) {
	pairs := map[string][]byte{
		"mailbox/1/0": {0x0a, 0x00, 0xff},
		"mailbox/0/1": []byte("value"),
		"votes/0":     {1, 0, 0, 0, 0, 0, 0, 0},
		"empty":       {},
	}
	blob, err := Encode(pairs)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	table, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for k, want := range pairs {
		got, err := table.Get(k)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", k, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get(%s) = %v, want %v", k, got, want)
		}
	}
}

func TestTable_Keys(t *testing.T) {
	blob, _ := Encode(map[string][]byte{
		"mailbox/1/2": nil,
		"mailbox/1/0": nil,
		"mailbox/2/1": nil,
		"votes/1":     nil,
	})
	table, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := table.Keys("mailbox/1/"); !reflect.DeepEqual(got, []string{"mailbox/1/0", "mailbox/1/2"}) {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestTable_Get_Errors(t *testing.T) {
	blob, _ := Encode(map[string][]byte{"a": []byte("b")})
	table, _ := Decode(blob)
	if _, err := table.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if _, err := table.Get(""); err == nil {
		t.Fatal("Get should reject an empty key")
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, blob := range [][]byte{nil, []byte("not json"), []byte(`{"k":"***"}`)} {
		if _, err := Decode(blob); err == nil {
			t.Errorf("Decode(%q) should fail", blob)
		}
	}
}
