// services/softuart/service.go
package softuart

import (
	"context"

	"softuart-go/bus"
	"softuart-go/errcode"
	"softuart-go/types"
	"softuart-go/x/timex"
	"softuart-go/x/util"
)

const (
	tokConfig   = "config"
	tokSoftUART = "softuart"
	tokControl  = "control"
	tokState    = "state"
	tokStatus   = "status"
	tokInfo     = "info"
	tokEvent    = "event"
	tokTx       = "tx"

	verbWrite     = "write"
	verbRead      = "read"
	verbSetBaud   = "set_baud"
	verbSetFormat = "set_format"
	verbCancel    = "cancel"
)

var (
	topicConfig  = bus.Topic{tokConfig, tokSoftUART}
	topicControl = bus.Topic{tokSoftUART, tokControl, bus.SingleWild}
	topicState   = bus.Topic{tokSoftUART, tokState}
	topicStatus  = bus.Topic{tokSoftUART, tokStatus}
	topicInfo    = bus.Topic{tokSoftUART, tokInfo}
	topicTxEvent = bus.Topic{tokSoftUART, tokEvent, tokTx}
)

// Opener builds a Device for a configuration, e.g. NewBCM or a test fake.
type Opener func(Config) (*Device, error)

// Service exposes one Device on the bus. It waits for config/softuart,
// then serves softuart/control/<verb> requests.
type Service struct {
	conn *bus.Connection
	open Opener
	logf LogFunc

	dev  *Device
	file *File

	idle chan *Device // a write's run has finished
}

func NewService(conn *bus.Connection, open Opener) *Service {
	return &Service{conn: conn, open: open, idle: make(chan *Device, 4)}
}

// SetLogFunc sets the function used for service lifecycle lines and, when
// the config carries none, for the device.
func (s *Service) SetLogFunc(f LogFunc) { s.logf = f }

// Start runs the service loop in a goroutine.
func (s *Service) Start(ctx context.Context) {
	go s.Run(ctx)
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfig)
	ctrlSub := s.conn.Subscribe(topicControl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishStatus("idle", "awaiting_config")
	s.publishTxState()

	for {
		var echo <-chan struct{}
		if s.dev != nil {
			echo = s.dev.Echo().Readable()
		}

		select {
		case <-ctx.Done():
			s.closeDevice()
			s.publishStatus("stopped", "context_cancelled")
			s.publishTxState()
			return

		case msg := <-cfgSub.Channel():
			if msg == nil {
				s.closeDevice()
				s.publishStatus("stopped", "config_subscription_closed")
				return
			}
			if err := s.applyConfig(msg.Payload); err != nil {
				s.log(0, "softuart: config rejected: %v", err)
				s.publishStatus("error", string(errcode.Of(err)))
				continue
			}
			s.publishStatus("up", "running")

		case msg := <-ctrlSub.Channel():
			if msg == nil {
				s.closeDevice()
				s.publishStatus("stopped", "control_subscription_closed")
				return
			}
			s.handleControl(ctx, msg)

		case <-echo:
			s.drainEcho()

		case d := <-s.idle:
			if d == s.dev {
				s.drainEcho()
				s.publishTxState()
			}
		}
	}
}

func (s *Service) applyConfig(payload any) error {
	cfg, err := ParseConfig(payload)
	if err != nil {
		return err
	}
	if cfg.LogFunc == nil {
		cfg.LogFunc = s.logf
	}
	s.closeDevice()
	dev, err := s.open(cfg)
	if err != nil {
		s.publishTxState()
		return err
	}
	f, err := dev.Open()
	if err != nil {
		_ = dev.Shutdown()
		return err
	}
	s.dev, s.file = dev, f
	s.publishInfo()
	s.publishTxState()
	return nil
}

func (s *Service) closeDevice() {
	if s.dev == nil {
		return
	}
	_ = s.file.Close()
	_ = s.dev.Shutdown()
	s.drainEcho()
	s.dev, s.file = nil, nil
	s.conn.Publish(s.conn.NewMessage(topicInfo, nil, true))
}

func (s *Service) handleControl(ctx context.Context, msg *bus.Message) {
	verb, _ := msg.Topic[len(msg.Topic)-1].(string)
	if s.dev == nil {
		s.replyErr(msg, errcode.Closed)
		return
	}

	switch verb {
	case verbWrite:
		req, err := decodeWrite(msg.Payload)
		if err != nil {
			s.replyErr(msg, errcode.InvalidParams)
			return
		}
		if req.Wait {
			go s.writeWait(ctx, msg, s.dev, s.file, req.Data)
			return
		}
		n, err := s.file.Write(req.Data)
		if err != nil {
			s.replyErr(msg, errcode.Of(err))
			return
		}
		s.watchIdle(ctx, s.dev)
		s.publishTxState()
		s.conn.Reply(msg, types.SerialWriteAck{OK: true, N: n}, false)

	case verbRead:
		var req types.SerialRead
		if msg.Payload != nil {
			if err := util.DecodeJSON(msg.Payload, &req); err != nil {
				s.replyErr(msg, errcode.InvalidParams)
				return
			}
		}
		limit := req.Max
		if limit <= 0 || limit > s.dev.buf.Cap() {
			limit = s.dev.buf.Cap()
		}
		buf := make([]byte, limit)
		n, err := s.file.Read(buf)
		if err != nil {
			s.replyErr(msg, errcode.Of(err))
			return
		}
		s.conn.Reply(msg, types.SerialReadReply{OK: true, Data: buf[:n]}, false)

	case verbSetBaud:
		var req types.SerialSetBaud
		if err := util.DecodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidParams)
			return
		}
		if err := s.dev.SetBaud(req.Baud); err != nil {
			s.replyErr(msg, errcode.Of(err))
			return
		}
		s.publishInfo()
		s.conn.Reply(msg, types.OKReply{OK: true}, false)

	case verbSetFormat:
		var req types.SerialSetFormat
		if err := util.DecodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidParams)
			return
		}
		if err := s.dev.SetFormat(req); err != nil {
			s.replyErr(msg, errcode.Of(err))
			return
		}
		s.publishInfo()
		s.conn.Reply(msg, types.OKReply{OK: true}, false)

	case verbCancel:
		s.dev.Cancel()
		s.drainEcho()
		s.publishTxState()
		s.conn.Reply(msg, types.OKReply{OK: true}, false)

	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

// decodeWrite accepts raw text or bytes as well as a SerialWrite.
func decodeWrite(payload any) (types.SerialWrite, error) {
	switch p := payload.(type) {
	case string:
		return types.SerialWrite{Data: []byte(p)}, nil
	case []byte:
		return types.SerialWrite{Data: p}, nil
	}
	var req types.SerialWrite
	err := util.DecodeJSON(payload, &req)
	return req, err
}

// writeWait runs off the service loop, since it may wait for a whole
// message to go out.
func (s *Service) writeWait(ctx context.Context, msg *bus.Message, dev *Device, f *File, data []byte) {
	n, err := f.WriteContext(ctx, data)
	if err != nil {
		s.replyErr(msg, errcode.Of(err))
		return
	}
	s.conn.Reply(msg, types.SerialWriteAck{OK: true, N: n}, false)
	s.waitIdle(ctx, dev)
}

func (s *Service) watchIdle(ctx context.Context, dev *Device) {
	go s.waitIdle(ctx, dev)
}

func (s *Service) waitIdle(ctx context.Context, dev *Device) {
	if dev.WaitIdle(ctx) != nil {
		return
	}
	select {
	case s.idle <- dev:
	case <-ctx.Done():
	}
}

// drainEcho publishes the bytes that have finished going out.
func (s *Service) drainEcho() {
	if s.dev == nil {
		return
	}
	ring := s.dev.Echo()
	for ring.Available() > 0 {
		buf := make([]byte, ring.Available())
		n := ring.ReadInto(buf)
		if n == 0 {
			return
		}
		s.conn.Publish(s.conn.NewMessage(topicTxEvent, types.TxEvent{Data: buf[:n], TS: timex.NowMs()}, false))
	}
}

// ---- publishing ----

func (s *Service) publishTxState() {
	st := types.TxState{State: "idle", Link: types.LinkDown, TS: timex.NowMs()}
	if s.dev != nil {
		st = s.dev.State()
		st.Link = types.LinkUp
		st.TS = timex.NowMs()
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func (s *Service) publishStatus(level, status string) {
	s.log(1, "softuart: %s (%s)", level, status)
	s.conn.Publish(s.conn.NewMessage(topicStatus, types.ServiceState{Level: level, Status: status, TS: timex.NowMs()}, true))
}

func (s *Service) publishInfo() {
	if s.dev == nil {
		return
	}
	s.conn.Publish(s.conn.NewMessage(topicInfo, types.Info{
		SchemaVersion: 1,
		Driver:        "softuart",
		Kind:          types.KindSerial,
		Detail:        s.dev.Info(),
	}, true))
}

func (s *Service) replyErr(req *bus.Message, code errcode.Code) {
	if len(req.ReplyTo) == 0 {
		return
	}
	if code == errcode.OK || code == "" {
		code = errcode.Error
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func (s *Service) log(level int, format string, param ...interface{}) {
	if s.logf != nil {
		s.logf(level, format, param...)
	}
}
