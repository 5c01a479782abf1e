// services/softuart/config.go
package softuart

import (
	"softuart-go/drivers/bcm283x"
	"softuart-go/errcode"
	"softuart-go/services/softuart/internal/frame"
	"softuart-go/types"
	"softuart-go/x/mathx"
	"softuart-go/x/util"
)

const (
	DefaultPin        = 4
	DefaultBaud       = 4800
	DefaultCapacity   = 256
	DefaultDevicePath = "/dev/gpiomem"

	MinCapacity = 16
	MaxCapacity = 4096
)

// LogFunc receives leveled log lines. Level 0 is errors; higher is chattier.
type LogFunc func(level int, format string, param ...interface{})

// Config describes one transmitter. The zero value is not usable; start
// from DefaultConfig or ParseConfig.
type Config struct {
	Pin      int                   `json:"pin"`
	Baud     uint32                `json:"baud"`
	Capacity int                   `json:"capacity"`
	Format   types.SerialSetFormat `json:"format"`

	// DevicePath and MapOffset locate the GPIO block. /dev/gpiomem maps at
	// offset 0; /dev/mem needs the peripheral base plus the GPIO offset.
	DevicePath string `json:"device_path"`
	MapOffset  int64  `json:"map_offset"`

	LogFunc LogFunc `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		Pin:        DefaultPin,
		Baud:       DefaultBaud,
		Capacity:   DefaultCapacity,
		Format:     types.SerialSetFormat{DataBits: 8, StopBits: 1, Parity: types.ParityNone},
		DevicePath: DefaultDevicePath,
	}
}

// ParseConfig overlays src (raw JSON or a decoded bus payload) on the
// defaults and validates the result.
func ParseConfig(src any) (Config, error) {
	cfg := DefaultConfig()
	if src != nil {
		if err := util.DecodeJSON(src, &cfg); err != nil {
			return Config{}, &errcode.E{C: errcode.InvalidParams, Op: "softuart.ParseConfig", Err: err}
		}
	}
	if err := cfg.normalise(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalise clamps the capacity and range-checks the rest.
func (c *Config) normalise() error {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	c.Capacity = mathx.Clamp(c.Capacity, MinCapacity, MaxCapacity)
	if c.DevicePath == "" {
		c.DevicePath = DefaultDevicePath
	}
	if c.Baud == 0 {
		return &errcode.E{C: errcode.InvalidBaud, Op: "softuart.config", Msg: "baud must be > 0"}
	}
	if _, ok := bcm283x.MapPin(c.Pin); !ok {
		return &errcode.E{C: errcode.UnknownPin, Op: "softuart.config"}
	}
	return c.frameFormat().Validate()
}

func (c *Config) frameFormat() frame.Format {
	return toFrameFormat(c.Format)
}

func toFrameFormat(f types.SerialSetFormat) frame.Format {
	return frame.Format{DataBits: f.DataBits, Parity: f.Parity, StopBits: f.StopBits}
}

func fromFrameFormat(f frame.Format) types.SerialSetFormat {
	return types.SerialSetFormat{DataBits: f.DataBits, Parity: f.Parity, StopBits: f.StopBits}
}

func (c *Config) logf(level int, format string, param ...interface{}) {
	if c.LogFunc != nil {
		c.LogFunc(level, format, param...)
	}
}
