package main

import (
	"errors"
	"strings"

	"softuart-go/types"
)

// parseFormat reads the usual short notation: data bits, parity letter,
// stop bits.
func parseFormat(s string) (types.SerialSetFormat, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return types.SerialSetFormat{}, errors.New("format must look like 8N1")
	}
	p, err := parseParity(s[1:2])
	if err != nil {
		return types.SerialSetFormat{}, err
	}
	return types.SerialSetFormat{
		DataBits: s[0] - '0',
		Parity:   p,
		StopBits: s[2] - '0',
	}, nil
}

func parseParity(s string) (types.Parity, error) {
	switch strings.ToLower(s) {
	case "n", "none":
		return types.ParityNone, nil
	case "e", "even":
		return types.ParityEven, nil
	case "o", "odd":
		return types.ParityOdd, nil
	}
	return 0, errors.New("parity must be none, even or odd")
}
