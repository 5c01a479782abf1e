package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"softuart-go/services/softuart"
)

type Context struct {
	cfg  softuart.Config
	logf softuart.LogFunc
}

var CLI struct {
	Pin      int    `optional help:"BCM GPIO number to drive." default:"4"`
	Baud     uint32 `optional help:"Data rate in bits per second." default:"4800"`
	Format   string `optional help:"Frame format as <data><parity><stop>, e.g. 8N1 or 7E2." default:"8N1"`
	Capacity int    `optional help:"Message buffer size in bytes." default:"256"`
	Device   string `optional help:"GPIO memory device." default:"/dev/gpiomem"`
	Offset   int64  `optional type:"hex" help:"Map offset of the GPIO block within the device (hex)." default:"0"`
	DryRun   bool   `optional help:"Drive an in-memory register bank instead of the hardware."`
	LogLevel int    `optional help:"Higher values give more output."`

	Write   WriteCmd   `cmd help:"Transmit a message."`
	Read    ReadCmd    `cmd help:"Transmit a message and read back the stored copy."`
	Bench   BenchCmd   `cmd help:"Transmit a block of bytes and report timer jitter."`
	Console ConsoleCmd `cmd help:"Interactive control through the bus service."`
}

func main() {
	k, err := kong.New(&CLI,
		kong.Description("Bit-banged serial transmitter for BCM283x GPIO."),
		kong.NamedMapper("hex", intMapper{base: 16}))
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx, err := k.Parse(os.Args[1:])
	if err != nil {
		fmt.Println(err)
		return
	}

	c := &Context{logf: logFunc(CLI.LogLevel)}
	c.cfg, err = configFromFlags()
	if err != nil {
		color.New(color.FgRed).Println("Invalid configuration:", err)
		os.Exit(2)
	}
	c.cfg.LogFunc = c.logf

	err = ctx.Run(c)
	ctx.FatalIfErrorf(err)
}

func logFunc(max int) softuart.LogFunc {
	warn := color.New(color.FgYellow)
	info := color.New(color.FgCyan)
	return func(level int, format string, param ...interface{}) {
		if level > max {
			return
		}
		str := fmt.Sprintf(format, param...)
		if level == 0 {
			warn.Printf("UART(%d): %s\n", level, str)
			return
		}
		info.Printf("UART(%d): %s\n", level, str)
	}
}

func configFromFlags() (softuart.Config, error) {
	f, err := parseFormat(CLI.Format)
	if err != nil {
		return softuart.Config{}, err
	}
	return softuart.ParseConfig(map[string]any{
		"pin":         CLI.Pin,
		"baud":        CLI.Baud,
		"capacity":    CLI.Capacity,
		"format":      f,
		"device_path": CLI.Device,
		"map_offset":  CLI.Offset,
	})
}

func (c *Context) opener() softuart.Opener {
	if CLI.DryRun {
		return func(cfg softuart.Config) (*softuart.Device, error) {
			d, _, err := softuart.NewMemory(cfg)
			return d, err
		}
	}
	return softuart.NewBCM
}

func (c *Context) openDevice() (*softuart.Device, error) {
	return c.opener()(c.cfg)
}
