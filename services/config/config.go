// services/config/config.go
package config

import (
	"context"
	"encoding/json"

	"softuart-go/bus"
	"softuart-go/errcode"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for the board ID
)

// EmbeddedConfigLookup resolves the raw JSON config for a board.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig publishes each top-level key of the board config as a
// retained config/<key> message.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "missing device ID in context"}
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "no embedded config for device: " + device}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "config", Msg: "embedded config is not a JSON object", Err: err}
	}

	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// Start publishes the config in a goroutine. Errors go to logf, if set.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection, logf func(level int, format string, param ...interface{})) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil && logf != nil {
			logf(0, "config: %v", err)
		}
	}()
}

// Publish is the synchronous form of Start.
func (s *ConfigService) Publish(ctx context.Context, conn *bus.Connection) error {
	return s.publishConfig(ctx, conn)
}
