// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"softuart-go/bus"
	"softuart-go/errcode"
	"softuart-go/types"
	"softuart-go/x/timex"
	"softuart-go/x/util"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start runs the bridge until ctx is cancelled. It waits for JSON config on
// {"config","bridge"}, then forwards matching bus messages over the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`

	// Forward lists "/"-separated topic patterns; "+" and "#" work as on
	// the bus.
	Forward []string `json:"forward"`

	// HeartbeatMS sends a ping frame at this interval; 0 disables it.
	HeartbeatMS int `json:"heartbeat_ms,omitempty"`
}

type TransportConfig struct {
	// "softuart" (provided here) or other names registered via RegisterTransport.
	Type string `json:"type"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			var cfg Config
			if err := util.DecodeJSON(msg.Payload, &cfg); err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport, s.conn)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}
	patterns, err := parsePatterns(cfg.Forward)
	if err != nil {
		s.publishState("error", "bad_forward_pattern", err)
		return
	}

	in := make(chan *bus.Message, 32)
	for _, p := range patterns {
		sub := s.conn.Subscribe(p)
		defer s.conn.Unsubscribe(sub)
		go fanIn(ctx, sub, in)
	}

	var heartbeat time.Duration
	if cfg.HeartbeatMS > 0 {
		heartbeat = time.Duration(cfg.HeartbeatMS) * time.Millisecond
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		err = s.handleLink(ctx, link, in, heartbeat)
		_ = link.Close()
		if err == nil {
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

func fanIn(ctx context.Context, sub *bus.Subscription, out chan<- *bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleLink owns the active link lifetime. Frames that can never fit the
// link are dropped; any other write error ends the link.
func (s *Service) handleLink(ctx context.Context, link Link, in <-chan *bus.Message, heartbeat time.Duration) error {
	wr := newFramedWriter(link)

	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort close.
			cctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = wr.WriteFrame(cctx, Frame{Type: frameClose})
			cancel()
			return nil
		case m := <-in:
			if loops(m.Topic) {
				continue
			}
			payload, err := encodePub(m)
			if err != nil {
				s.dropped.Add(1)
				continue
			}
			if err := wr.WriteFrame(ctx, Frame{Type: framePub, Payload: payload}); err != nil {
				if errcode.Of(err) == errcode.Oversized {
					s.dropped.Add(1)
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			s.sent.Add(1)
		case <-tick:
			if err := wr.WriteFrame(ctx, Frame{Type: framePing}); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// loops reports topics the bridge itself generates traffic on.
func loops(t bus.Topic) bool {
	if len(t) == 0 {
		return false
	}
	switch t[0] {
	case "_reply", "bridge":
		return true
	case "softuart":
		return len(t) > 1 && (t[1] == "control" || t[1] == "event")
	}
	return false
}

func parsePatterns(in []string) ([]bus.Topic, error) {
	if len(in) == 0 {
		return nil, errcode.Wrap(errcode.InvalidParams, "bridge", fmt.Errorf("no forward patterns"))
	}
	out := make([]bus.Topic, 0, len(in))
	for _, p := range in {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		toks := make([]any, len(parts))
		for i, s := range parts {
			if s == "" || (s == bus.MultiWild && i != len(parts)-1) {
				return nil, errcode.Wrap(errcode.InvalidParams, "bridge", fmt.Errorf("bad pattern %q", p))
			}
			toks[i] = s
		}
		out = append(out, bus.T(toks...))
	}
	return out, nil
}

// pubFrame is the JSON body of a framePub frame.
type pubFrame struct {
	Topic   bus.Topic `json:"topic"`
	Payload any       `json:"payload"`
}

func encodePub(m *bus.Message) ([]byte, error) {
	return json.Marshal(pubFrame{Topic: m.Topic, Payload: m.Payload})
}

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePub   byte = 0x10
	frameClose byte = 0x7f
)

// Frame is a type byte and a 16-bit big-endian length, then the payload.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedWriter struct{ l Link }

func newFramedWriter(l Link) *framedWriter { return &framedWriter{l: l} }

// WriteFrame sends f as a single link message.
func (fw *framedWriter) WriteFrame(ctx context.Context, f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return errcode.Wrap(errcode.Oversized, "bridge", fmt.Errorf("frame too large: %d", len(f.Payload)))
	}
	buf := make([]byte, 0, 3+len(f.Payload))
	buf = append(buf, f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload)&0xFF))
	buf = append(buf, f.Payload...)
	_, err := fw.l.WriteContext(ctx, buf)
	return err
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string, err error) {
	st := types.ServiceState{
		Level:   level,
		Status:  status,
		TS:      timex.NowMs(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
