// Package bus is the process-local publish/subscribe client for Gray Logic.
//
// Components register handlers against topic patterns. The bus keeps a single
// broker connection alive, replays every registered pattern after each
// (re)connect, and fans inbound messages out to all matching handlers.
//
// # Architecture
//
//	Subscribe ──► registry ──► supervisor ──► transport.Conn ──► Broker
//	                 ▲              │
//	                 └── dispatcher ◄┘ (NextMessage loop)
//
//   - registry: pattern → handlers, cleared on Stop
//   - supervisor: dial, resubscribe, listen, redial after a fixed delay
//   - dispatcher: decode once, run each matching handler in its own goroutine
//   - publisher: best-effort; fails fast with ErrNotConnected while offline
//
// # Topic Patterns
//
// Patterns use MQTT syntax. "+" matches exactly one level and a trailing "#"
// matches one or more remaining levels:
//
//	sensors/+/temp     matches sensors/kitchen/temp
//	sensors/#          matches sensors/a and sensors/a/b, not sensors
//
// # Payloads
//
// Outbound payloads are JSON-encoded with EncodePayload. Inbound payloads are
// decoded once, with integers kept exact as int64, and each handler receives
// its own copy; messages that are not valid JSON are logged and dropped.
//
// # Usage
//
//	b, err := bus.New(bus.Config{Name: "core"}, dialer)
//	if err != nil {
//	    return err
//	}
//	b.SetLogger(log)
//
//	err = b.Subscribe(ctx, "sensors/+/temp", bus.NewHandler(
//	    func(ctx context.Context, topic string, payload any) error {
//	        return nil
//	    }))
//
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop(context.Background())
//
//	b.PublishAtLeastOnce(ctx, map[string]any{"state": "on"}, "lights/hall/set")
package bus
