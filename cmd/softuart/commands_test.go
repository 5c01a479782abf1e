package main

import (
	"testing"

	"softuart-go/services/softuart"
)

func TestDrainReadsBufferedOnce(t *testing.T) {
	dev, _, err := softuart.NewMemory(softuart.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Shutdown()
	f, err := dev.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("hey")); err != nil {
		t.Fatal(err)
	}
	got, err := drain(f)
	if err != nil || string(got) != "hey(3 letters)" {
		t.Fatalf("drain = %q, %v", got, err)
	}
	if again, _ := drain(f); len(again) != 0 {
		t.Fatalf("second drain = %q", again)
	}
}

func TestBitsPerFrame(t *testing.T) {
	for _, c := range []struct {
		format string
		want   int
	}{
		{"8N1", 10},
		{"7E1", 10},
		{"8O2", 12},
		{"5N1", 7},
	} {
		f, err := parseFormat(c.format)
		if err != nil {
			t.Fatalf("%s: %v", c.format, err)
		}
		cfg := softuart.DefaultConfig()
		cfg.Format = f
		if got := bitsPerFrame(&Context{cfg: cfg}); got != c.want {
			t.Fatalf("%s: bits = %d, want %d", c.format, got, c.want)
		}
	}
}
