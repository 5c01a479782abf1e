package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"tinygo.org/x/drivers"
)

type WriteCmd struct {
	Text    string        `arg name:"text" help:"Message to transmit."`
	Timeout time.Duration `optional help:"Give up if the line stays busy this long." default:"10s"`
}

func (l *WriteCmd) Run(c *Context) error {
	dev, err := c.openDevice()
	if err != nil {
		return err
	}
	defer dev.Shutdown()

	f, err := dev.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), l.Timeout)
	defer cancel()

	start := time.Now()
	n, err := f.WriteContext(ctx, []byte(l.Text))
	if err != nil {
		return err
	}
	frames := f.Buffered()
	if err := dev.WaitIdle(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)
	ideal := time.Duration(frames*bitsPerFrame(c)) * dev.BitPeriod()

	color.New(color.FgGreen).Printf("Sent %d bytes (%d frames) on GPIO%d\n", n, frames, c.cfg.Pin)
	fmt.Printf("Elapsed %v, line time %v\n", elapsed, ideal)
	return nil
}

type ReadCmd struct {
	Text string `arg name:"text" help:"Message to transmit before reading back."`
}

func (l *ReadCmd) Run(c *Context) error {
	dev, err := c.openDevice()
	if err != nil {
		return err
	}
	defer dev.Shutdown()

	f, err := dev.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte(l.Text)); err != nil {
		return err
	}
	got, err := drain(f)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("%q\n", got)

	again, _ := drain(f)
	fmt.Printf("Read %d bytes, then %d\n", len(got), len(again))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return dev.WaitIdle(ctx)
}

func bitsPerFrame(c *Context) int {
	f := c.cfg.Format
	n := 1 + int(f.DataBits) + int(f.StopBits)
	if f.Parity != 0 {
		n++
	}
	return n
}

// drain reads whatever u has buffered.
func drain(u drivers.UART) ([]byte, error) {
	buf := make([]byte, u.Buffered())
	n, err := u.Read(buf)
	return buf[:n], err
}
