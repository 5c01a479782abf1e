package types

import (
	"encoding/json"
	"testing"
)

func TestParityJSON(t *testing.T) {
	for _, c := range []struct {
		in   string
		want Parity
	}{
		{`"none"`, ParityNone},
		{`"even"`, ParityEven},
		{`"odd"`, ParityOdd},
		{`2`, ParityOdd},
		{`""`, ParityNone},
	} {
		var p Parity
		if err := json.Unmarshal([]byte(c.in), &p); err != nil {
			t.Fatalf("Unmarshal(%s): %v", c.in, err)
		}
		if p != c.want {
			t.Fatalf("Unmarshal(%s) = %v, want %v", c.in, p, c.want)
		}
	}

	var p Parity
	_ = json.Unmarshal([]byte(`"mark"`), &p)
	if p == ParityNone || p == ParityEven || p == ParityOdd {
		t.Fatalf("unknown parity decoded to valid value %v", p)
	}

	b, err := json.Marshal(SerialSetFormat{DataBits: 8, StopBits: 1, Parity: ParityEven})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"data_bits":8,"stop_bits":1,"parity":"even"}`; string(b) != want {
		t.Fatalf("Marshal = %s, want %s", b, want)
	}
}
