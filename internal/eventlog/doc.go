// Package eventlog records messages crossing the bus and replays outbound
// messages that could not be delivered.
//
// A Recorder is registered as a bus.Observer. It queues every inbound and
// outbound message and writes them to a Backend from a single goroutine.
// Publishes that fail (bus not connected or transport error) are stored with
// status failed; after the bus reconnects, TriggerReplay republishes them
// through TryPublish and marks them replayed.
//
// SQLiteBackend is the production backend. It logs storage failures instead
// of returning them, so an unavailable database degrades the log, not the bus.
//
// Usage:
//
//	backend := eventlog.NewSQLiteBackend(db.DB)
//	rec := eventlog.NewRecorder(backend, eventlog.RecorderConfig{TTL: 7 * 24 * time.Hour})
//	rec.SetPublisher(b)
//	b.AddObserver(rec)
//	b.SetOnConnect(rec.TriggerReplay)
//	go rec.Run(ctx)
package eventlog
