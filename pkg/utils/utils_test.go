package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func decodeJSON(reader io.Reader, data any) error {
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()

	return decoder.Decode(data)
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		0:           "0B",
		512:         "512B",
		2048:        "2.00KiB",
		1536 * 1024: "1.50MiB",
		4 << 30:     "4.00GiB",
	}

	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestFormatCount(t *testing.T) {
	tests := map[uint64]string{
		100:      "100",
		16 << 20: "16.00 Mega",
		1 << 30:  "1.00 Giga",
	}

	for n, want := range tests {
		if got := FormatCount(n); got != want {
			t.Fatalf("FormatCount(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestEncodeJSONRoundTrip(t *testing.T) {
	type sample struct {
		Threads   int     `json:"threads"`
		Bandwidth float64 `json:"bandwidth"`
	}

	var buf bytes.Buffer
	if err := EncodeJSON(&buf, sample{Threads: 4, Bandwidth: 12.5}); err != nil {
		t.Fatalf("EncodeJSON() failed: %v", err)
	}

	var out sample
	if err := decodeJSON(&buf, &out); err != nil {
		t.Fatalf("decodeJSON() failed: %v", err)
	}

	if out.Threads != 4 || out.Bandwidth != 12.5 {
		t.Fatalf("unexpected round trip result: %+v", out)
	}

	if err := decodeJSON(bytes.NewBufferString(`{"threads": 1, "latency": 3}`), &out); err == nil {
		t.Fatal("decodeJSON() accepted an unknown field")
	}
}
