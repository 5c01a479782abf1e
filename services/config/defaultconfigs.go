package config

import "sort"

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that board
// -----------------------------------------------------------------------------

// Pi 2/3: /dev/gpiomem maps the GPIO block at offset 0.
const cfgPi3 = `{
  "softuart": {
    "pin": 4,
    "baud": 4800,
    "capacity": 256,
    "format": {"data_bits": 8, "stop_bits": 1, "parity": "none"},
    "device_path": "/dev/gpiomem"
  }
}`

// Pi 1 / Zero through /dev/mem: peripheral base 0x20000000 + 0x200000.
const cfgPi1Mem = `{
  "softuart": {
    "pin": 17,
    "baud": 9600,
    "device_path": "/dev/mem",
    "map_offset": 538968064
  }
}`

var embeddedConfigs = map[string][]byte{
	"pi3":     []byte(cfgPi3),
	"pi1-mem": []byte(cfgPi1Mem),
}

// Boards lists the IDs with an embedded config.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
