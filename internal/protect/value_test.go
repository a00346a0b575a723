package protect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestRevealRoundTrip(t *testing.T) {
	v := FromString("correct horse battery staple")

	if got := v.RevealText(); got != "correct horse battery staple" {
		t.Errorf("RevealText() = %q", got)
	}
	if !bytes.Equal(v.RevealBytes(), []byte("correct horse battery staple")) {
		t.Error("RevealBytes() does not match the original input")
	}
	if v.Len() != len("correct horse battery staple") {
		t.Errorf("Len() = %d", v.Len())
	}
}

func TestFromBytesCopiesInput(t *testing.T) {
	src := []byte("secret")
	v := FromBytes(src)

	if !bytes.Equal(src, []byte("secret")) {
		t.Fatal("FromBytes must not modify the caller's slice")
	}

	src[0] = 'X'
	if v.RevealText() != "secret" {
		t.Error("value changed after mutating the source slice")
	}
}

func TestWrapWipesInput(t *testing.T) {
	src := []byte("wipe-me")
	v := Wrap(src)

	for i, b := range src {
		if b != 0 {
			t.Fatalf("byte %d not wiped", i)
		}
	}
	if v.RevealText() != "wipe-me" {
		t.Error("wrapped value lost its content")
	}
}

func TestEmptyValues(t *testing.T) {
	var nilValue *Value
	tests := []struct {
		name string
		v    *Value
	}{
		{"nil", nilValue},
		{"empty string", FromString("")},
		{"empty bytes", FromBytes(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.v.IsEmpty() {
				t.Error("expected empty value")
			}
			if tt.v.RevealText() != "" {
				t.Error("expected empty text")
			}
			if len(tt.v.RevealBytes()) != 0 {
				t.Error("expected no bytes")
			}
		})
	}
}

func TestValueNeverFormatsPlaintext(t *testing.T) {
	v := FromString("hunter2")

	for _, verb := range []string{"%v", "%+v", "%#v", "%s", "%q", "%x", "%X"} {
		out := fmt.Sprintf(verb, v)
		if strings.Contains(out, "hunter2") || strings.Contains(out, "68756e74657232") {
			t.Errorf("verb %s leaked plaintext: %s", verb, out)
		}
	}

	wrapped := fmt.Errorf("failed with %v", v)
	if strings.Contains(wrapped.Error(), "hunter2") {
		t.Error("error message leaked plaintext")
	}
}

func TestValueNeverLogsPlaintext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("entry", "password", FromString("hunter2"))

	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("log output leaked plaintext: %s", buf.String())
	}
	if !strings.Contains(buf.String(), redacted) {
		t.Errorf("log output missing redaction marker: %s", buf.String())
	}
}

func TestValueRefusesGenericSerialization(t *testing.T) {
	payload := struct {
		Password *Value `json:"password"`
	}{Password: FromString("hunter2")}

	_, err := json.Marshal(payload)
	if err == nil {
		t.Fatal("expected json.Marshal to fail")
	}
	if !errors.Is(err, ErrNotSerializable) {
		t.Errorf("expected ErrNotSerializable, got %v", err)
	}
}

func TestEqual(t *testing.T) {
	a := FromString("same")
	b := FromString("same")
	c := FromString("different")

	if !a.Equal(b) {
		t.Error("equal values reported different")
	}
	if a.Equal(c) {
		t.Error("different values reported equal")
	}
	if !(*Value)(nil).Equal(FromString("")) {
		t.Error("nil and empty should be equal")
	}
}

func TestUseWipesScratchBuffer(t *testing.T) {
	v := FromString("scratch")
	var seen []byte

	err := v.Use(func(b []byte) error {
		seen = b
		if string(b) != "scratch" {
			t.Errorf("Use() got %q", b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use() returned %v", err)
	}
	for _, b := range seen {
		if b != 0 {
			t.Fatal("scratch buffer was not wiped")
		}
	}
}
