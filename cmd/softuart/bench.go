package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"gonum.org/v1/gonum/stat"

	"softuart-go/x/hrtimer"
)

type BenchCmd struct {
	Bytes int `optional help:"Payload bytes to send." default:"1024"`
}

func (l *BenchCmd) Run(c *Context) error {
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

	// "(NNNN letters)" takes up to 14 bytes of each message.
	chunk := dev.Info().Capacity - 14
	payload := make([]byte, chunk)
	for i := range payload {
		payload[i] = 'A' + byte(i%26)
	}

	ctx := context.Background()
	start := time.Now()
	frames := 0
	for left := l.Bytes; left > 0; left -= chunk {
		p := payload
		if left < chunk {
			p = payload[:left]
		}
		if _, err := f.WriteContext(ctx, p); err != nil {
			return err
		}
		got, _ := drain(f)
		frames += len(got)
	}
	if err := dev.WaitIdle(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)

	tm, ok := dev.Timer().(*hrtimer.Timer)
	if !ok {
		return fmt.Errorf("bench needs the hrtimer")
	}
	lat := tm.Latencies()
	if len(lat) == 0 {
		return fmt.Errorf("no timer samples")
	}
	xs := make([]float64, len(lat))
	for i, d := range lat {
		xs[i] = float64(d) / float64(time.Microsecond)
	}
	sort.Float64s(xs)
	mean, std := stat.MeanStdDev(xs, nil)
	p99 := stat.Quantile(0.99, stat.Empirical, xs, nil)

	ideal := time.Duration(frames*bitsPerFrame(c)) * dev.BitPeriod()
	color.New(color.FgGreen).Printf("%d frames in %v (line time %v)\n", frames, elapsed, ideal)
	fmt.Printf("Bit period %v, %d expiries\n", dev.BitPeriod(), tm.Fires())
	fmt.Printf("Expiry latency over last %d: mean %.2fus  stddev %.2fus  p99 %.2fus  max %.2fus\n",
		len(xs), mean, std, p99, xs[len(xs)-1])
	if bit := float64(dev.BitPeriod()) / float64(time.Microsecond); p99 > bit/2 {
		color.New(color.FgRed).Printf("p99 latency exceeds half a bit (%.2fus); expect framing errors\n", bit/2)
	}
	return nil
}
