package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultOperationTimeout bounds publish/subscribe acknowledgements when
	// the caller's context has no deadline.
	defaultOperationTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// messageBuffer is the inbound queue between paho and NextMessage.
	messageBuffer = 256
)

// defaultPorts per DSN scheme, used when the DSN omits a port.
var defaultPorts = map[string]string{
	"mqtt":  "1883",
	"tcp":   "1883",
	"mqtts": "8883",
	"ssl":   "8883",
	"tls":   "8883",
	"ws":    "80",
	"wss":   "443",
}

// brokerURL rebuilds the DSN without credentials, filling in the default port.
func brokerURL(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}

	out := url.URL{
		Scheme: u.Scheme,
		Host:   net.JoinHostPort(u.Hostname(), port),
		Path:   u.Path,
	}
	return out.String()
}

// buildClientOptions creates paho MQTT options from bus config.
//
// This configures:
//   - Broker URL from the DSN (credentials stripped)
//   - Client ID from the DSN user part
//   - Password authentication if the DSN carries a password
//   - Keep-alive and ping timeout
//   - TLS configuration (if the scheme is secured)
//   - No automatic reconnection: the bus supervisor owns reconnects
func buildClientOptions(cfg config.BusConfig, u *url.URL, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(u))

	// Client identification
	if u.User != nil {
		opts.SetClientID(u.User.Username())
		if password, ok := u.User.Password(); ok {
			opts.SetUsername(u.User.Username())
			opts.SetPassword(password)
		}
	}

	opts.SetCleanSession(cfg.CleanSession)

	// Reconnection is handled one level up, with resubscription.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetResumeSubs(false)

	opts.SetConnectTimeout(cfg.GetConnectTimeout())
	opts.SetKeepAlive(cfg.GetKeepAlive())
	opts.SetPingTimeout(cfg.GetPingDelay())

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// describe returns a log-safe broker address.
func describe(u *url.URL) string {
	if u.User == nil {
		return brokerURL(u)
	}
	return fmt.Sprintf("%s (client %s)", brokerURL(u), u.User.Username())
}
