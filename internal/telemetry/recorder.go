package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dinodia/dinodia-core/internal/device"
	"github.com/dinodia/dinodia-core/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the
	// InfluxDB API.
	millisecondsPerSecond = 1000
)

// Recorder wraps the InfluxDB v2 client for refresh telemetry.
//
// All methods are safe for concurrent use and safe on a nil receiver, so
// callers need no "is telemetry on" branches.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.TelemetryConfig

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server and configures
// the non-blocking write API.
func Connect(cfg config.TelemetryConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}

	go r.handleWriteErrors(r.writeAPI.Errors())

	return r, nil
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// RecordRefresh writes one refresh outcome. Non-blocking; the point is
// batched and sent asynchronously.
func (r *Recorder) RecordRefresh(userID string, mode device.Mode, duration time.Duration, deviceCount int, refreshErr error) {
	if r == nil || !r.IsConnected() {
		return
	}

	outcome := "success"
	if refreshErr != nil {
		outcome = "failure"
	}

	point := write.NewPoint(
		"device_refresh",
		map[string]string{
			"user_id": userID,
			"mode":    string(mode),
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms":  float64(duration.Milliseconds()),
			"device_count": deviceCount,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordCommand writes one command dispatch outcome.
func (r *Recorder) RecordCommand(cmd string, duration time.Duration, cmdErr error) {
	if r == nil || !r.IsConnected() {
		return
	}

	outcome := "success"
	if cmdErr != nil {
		outcome = "failure"
	}

	point := write.NewPoint(
		"device_command",
		map[string]string{
			"command": cmd,
			"outcome": outcome,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// HealthCheck verifies the InfluxDB connection is alive.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if r == nil || !r.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := r.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the last known connection state.
func (r *Recorder) IsConnected() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// SetOnError sets a callback invoked on asynchronous write failures.
func (r *Recorder) SetOnError(callback func(err error)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

// Flush forces all pending writes to be sent. Blocks until the buffer
// drains; intended for tests and shutdown.
func (r *Recorder) Flush() {
	if r == nil || r.writeAPI == nil || !r.IsConnected() {
		return
	}
	r.writeAPI.Flush()
}

// Close flushes pending writes and shuts the client down.
func (r *Recorder) Close() error {
	if r == nil || r.client == nil {
		return nil
	}

	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()

	r.writeAPI.Flush()
	r.client.Close()

	return nil
}
