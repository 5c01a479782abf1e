package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/shlex"

	"softuart-go/bus"
	"softuart-go/services/bridge"
	"softuart-go/services/config"
	"softuart-go/services/softuart"
	"softuart-go/types"
)

type ConsoleCmd struct {
	Board   string   `optional help:"Use the embedded config of this board instead of the flags."`
	Forward []string `optional help:"Bus topic patterns to bridge out over the line, e.g. sensors/#."`
}

const consoleHelp = `commands:
  write <text...>        transmit, fail if busy
  send <text...>         transmit after the line goes idle
  read [max]             read back the stored message
  baud <n>               change the bit rate
  format <8N1>           change the frame format
  cancel                 abort the current message
  pub <topic> <value>    publish on the bus (bridged if it matches --forward)
  state | info           show retained state
  quit`

type console struct {
	conn  *bus.Connection
	out   io.Writer
	ok    *color.Color
	fail  *color.Color
	event *color.Color
}

func (l *ConsoleCmd) Run(c *Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewBus(64)
	svc := softuart.NewService(b.NewConnection("softuart"), c.opener())
	svc.SetLogFunc(c.logf)
	svc.Start(ctx)

	conn := b.NewConnection("console")
	if l.Board != "" {
		cctx := context.WithValue(ctx, config.CtxDeviceKey, l.Board)
		if err := config.NewConfigService().Publish(cctx, conn); err != nil {
			return fmt.Errorf("%w (boards: %s)", err, strings.Join(config.Boards(), ", "))
		}
	} else {
		conn.Publish(conn.NewMessage(bus.T("config", "softuart"), c.cfg, true))
	}

	if len(l.Forward) > 0 {
		go bridge.Start(ctx, b.NewConnection("bridge"))
		conn.Publish(conn.NewMessage(bus.T("config", "bridge"), bridge.Config{
			Transport: bridge.TransportConfig{Type: "softuart"},
			Forward:   l.Forward,
		}, true))
	}

	con := &console{
		conn:  conn,
		out:   os.Stdout,
		ok:    color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		event: color.New(color.FgBlue),
	}
	go con.watchEvents(ctx)

	fmt.Fprintln(con.out, consoleHelp)
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(con.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		args, err := shlex.Split(sc.Text())
		if err != nil {
			con.fail.Fprintln(con.out, err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := con.exec(args); err != nil {
			con.fail.Fprintln(con.out, err)
		}
	}
}

func (c *console) watchEvents(ctx context.Context) {
	sub := c.conn.Subscribe(bus.T("softuart", "event", "tx"))
	status := c.conn.Subscribe(bus.T("softuart", "status"))
	link := c.conn.Subscribe(bus.T("bridge", "state"))
	defer c.conn.Unsubscribe(sub)
	defer c.conn.Unsubscribe(status)
	defer c.conn.Unsubscribe(link)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sub.Channel():
			if ev, ok := m.Payload.(types.TxEvent); ok {
				c.event.Fprintf(c.out, "[tx %q]\n", ev.Data)
			}
		case m := <-status.Channel():
			if st, ok := m.Payload.(types.ServiceState); ok {
				c.event.Fprintf(c.out, "[%s: %s]\n", st.Level, st.Status)
			}
		case m := <-link.Channel():
			if st, ok := m.Payload.(types.ServiceState); ok {
				c.event.Fprintf(c.out, "[bridge %s: %s %s]\n", st.Level, st.Status, st.Error)
			}
		}
	}
}

func (c *console) exec(args []string) error {
	switch args[0] {
	case "write", "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <text>", args[0])
		}
		req := types.SerialWrite{Data: []byte(strings.Join(args[1:], " ")), Wait: args[0] == "send"}
		return c.call("write", req)
	case "read":
		req := types.SerialRead{}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			req.Max = n
		}
		return c.call("read", req)
	case "baud":
		if len(args) != 2 {
			return fmt.Errorf("usage: baud <n>")
		}
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		return c.call("set_baud", types.SerialSetBaud{Baud: uint32(n)})
	case "format":
		if len(args) != 2 {
			return fmt.Errorf("usage: format <8N1>")
		}
		f, err := parseFormat(args[1])
		if err != nil {
			return err
		}
		return c.call("set_format", f)
	case "cancel":
		return c.call("cancel", nil)
	case "pub":
		if len(args) < 3 {
			return fmt.Errorf("usage: pub <a/b/c> <value>")
		}
		toks := strings.Split(strings.Trim(args[1], "/"), "/")
		topic := make([]any, len(toks))
		for i, t := range toks {
			topic[i] = t
		}
		c.conn.Publish(c.conn.NewMessage(bus.T(topic...), strings.Join(args[2:], " "), false))
		return nil
	case "state":
		return c.showRetained(bus.T("softuart", "state"))
	case "info":
		return c.showRetained(bus.T("softuart", "info"))
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (c *console) call(verb string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reply, err := c.conn.RequestWait(ctx, c.conn.NewMessage(bus.T("softuart", "control", verb), payload, false))
	if err != nil {
		return err
	}
	switch r := reply.Payload.(type) {
	case types.ErrorReply:
		return fmt.Errorf("%s: %s", verb, r.Error)
	case types.SerialWriteAck:
		c.ok.Fprintf(c.out, "queued %d bytes\n", r.N)
	case types.SerialReadReply:
		c.ok.Fprintf(c.out, "%q (%d bytes)\n", r.Data, len(r.Data))
	default:
		c.ok.Fprintln(c.out, "ok")
	}
	return nil
}

func (c *console) showRetained(topic bus.Topic) error {
	sub := c.conn.Subscribe(topic)
	defer c.conn.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		fmt.Fprintf(c.out, "%+v\n", m.Payload)
		return nil
	case <-time.After(100 * time.Millisecond):
		return fmt.Errorf("nothing published on %v", topic)
	}
}
