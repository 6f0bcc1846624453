// Package telemetry records refresh metrics in InfluxDB.
//
// Writes are non-blocking and batched; a refresh never waits on the
// metrics store. Async write failures surface through an error callback.
// The whole package is optional: when disabled in config, callers hold a
// nil *Recorder and every method no-ops.
package telemetry
