package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meross-go/capability"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts seconds to milliseconds for the
	// InfluxDB API.
	millisecondsPerSecond = 1000
)

// Config contains writer configuration options.
type Config struct {
	// Enabled gates the whole integration.
	Enabled bool

	// URL is the InfluxDB server address, e.g. "http://localhost:8086".
	URL string

	// Token authenticates against the server.
	Token string

	// Org and Bucket select where points land.
	Org    string
	Bucket string

	// BatchSize is the number of points per batch (default 100).
	BatchSize int

	// FlushInterval is how often pending points are flushed, in
	// seconds (default 10).
	FlushInterval int
}

// Writer streams fleet telemetry to InfluxDB.
//
// All methods are safe for concurrent use; writes are batched and sent
// asynchronously.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect establishes the InfluxDB connection and verifies it with a
// ping before returning a usable writer.
func Connect(cfg Config) (*Writer, error) {
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

	w := &Writer{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go w.handleWriteErrors(w.writeAPI.Errors())
	return w, nil
}

// OnError registers a callback for asynchronous write failures.
func (w *Writer) OnError(callback func(err error)) {
	w.mu.Lock()
	w.onError = callback
	w.mu.Unlock()
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.mu.RLock()
		callback := w.onError
		w.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// WritePowerSample records one instantaneous electrical reading.
func (w *Writer) WritePowerSample(deviceUUID string, sample capability.PowerSample) {
	if !w.IsConnected() {
		return
	}
	point := write.NewPoint(
		"power",
		map[string]string{
			"device_uuid": deviceUUID,
			"channel":     fmt.Sprint(sample.Channel),
		},
		map[string]interface{}{
			"current_a": sample.CurrentA,
			"voltage_v": sample.VoltageV,
			"power_w":   sample.PowerW,
		},
		sample.SampledAt,
	)
	w.writeAPI.WritePoint(point)
}

// WriteConsumption records one daily energy total.
func (w *Writer) WriteConsumption(deviceUUID string, channel int, reading capability.ConsumptionReading) {
	if !w.IsConnected() {
		return
	}
	point := write.NewPoint(
		"energy",
		map[string]string{
			"device_uuid": deviceUUID,
			"channel":     fmt.Sprint(channel),
		},
		map[string]interface{}{
			"energy_kwh": reading.KWh,
		},
		reading.Date,
	)
	w.writeAPI.WritePoint(point)
}

// WriteSensorSample records one environment sensor reading.
func (w *Writer) WriteSensorSample(deviceUUID, subdeviceID string, sample capability.SensorSample) {
	if !w.IsConnected() {
		return
	}
	point := write.NewPoint(
		"environment",
		map[string]string{
			"device_uuid":  deviceUUID,
			"subdevice_id": subdeviceID,
		},
		map[string]interface{}{
			"temperature_c":    sample.TemperatureC,
			"humidity_percent": sample.Humidity,
		},
		sample.SampledAt,
	)
	w.writeAPI.WritePoint(point)
}

// WriteSignalStrength records a device's Wi-Fi signal percentage.
func (w *Writer) WriteSignalStrength(deviceUUID string, stats capability.RuntimeStats) {
	if !w.IsConnected() {
		return
	}
	point := write.NewPoint(
		"radio",
		map[string]string{"device_uuid": deviceUUID},
		map[string]interface{}{"signal_percent": stats.SignalStrength},
		stats.SampledAt,
	)
	w.writeAPI.WritePoint(point)
}

// Flush forces pending points to be written immediately.
func (w *Writer) Flush() {
	if w.writeAPI != nil {
		w.writeAPI.Flush()
	}
}

// HealthCheck verifies the InfluxDB connection is alive.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if !w.IsConnected() {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := w.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the last known connection state.
func (w *Writer) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Close flushes pending writes and shuts the client down.
func (w *Writer) Close() error {
	if w.client == nil {
		return nil
	}
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	w.writeAPI.Flush()
	w.client.Close()
	return nil
}
