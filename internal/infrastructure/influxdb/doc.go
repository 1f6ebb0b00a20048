// Package influxdb records bus traffic in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. A connected Client is
// registered as a bus.Observer and writes one bus_traffic point per message:
//
//	tags:   direction (in|out), topic, result (received|sent|failed|not_connected|encode_failed)
//	fields: bytes, qos
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influxdb write failed", "error", err) })
//	b.AddObserver(client)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
package influxdb
