package tcs34725

/*
 * tcs34725 - Package for driving TCS34725 color sensors with interrupt
 * driven auto-exposure.
 *
 * Ref:
 * https://cdn-shop.adafruit.com/datasheets/TCS34725.pdf
 * https://github.com/adafruit/Adafruit_TCS34725
 * AMS DN40: Lux and CCT Calculations using ams Color Sensors
 *
 */

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch logLevel {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "info":
		l.SetLevel(logrus.InfoLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// SetLogger replaces the package logger.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		l = logger
	}
}

var (
	ErrNotStarted         = errors.New("tcs34725: sensor not started")
	ErrIntegrationTimeout = errors.New("tcs34725: timed out waiting for integration")
)

// State of the auto-exposure controller.
type State int

const (
	StateOff State = iota
	StateStarting
	StateArmed
	StateRecalibrating
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateStarting:
		return "starting"
	case StateArmed:
		return "armed"
	case StateRecalibrating:
		return "recalibrating"
	default:
		return "unknown"
	}
}

// SensorConfig mirrors the configuration registers.
type SensorConfig struct {
	Gain              int
	IntegrationCycles int
	WaitTimeMs        float64
	LongWait          bool
	WaitEnabled       bool
	Thresholds        Thresholds
	Persistence       int
}

func (c SensorConfig) IntegrationTimeMs() float64 { return IntegrationTimeMs(c.IntegrationCycles) }

func (c SensorConfig) exposure() Exposure {
	idx, _ := GainCode(c.Gain)
	return Exposure{GainIndex: int(idx), Cycles: c.IntegrationCycles}
}

// Options are the start-up settings. Zero values select the defaults.
type Options struct {
	Gain              int           // default 1
	IntegrationTimeMs float64       // default 153.6
	WaitTimeMs        float64       // 0 disables the wait state
	Persistence       int           // default 5 cycles
	LockTimeout       time.Duration // default DefaultLockTimeout
}

func (o Options) withDefaults() Options {
	if o.Gain == 0 {
		o.Gain = 1
	}
	if o.IntegrationTimeMs == 0 {
		o.IntegrationTimeMs = IntegrationTimeMs(RIPPLE_SAFE_CYCLES)
	}
	if o.Persistence == 0 {
		o.Persistence = 5
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	return o
}

// config validates the options before anything is written to the bus.
func (o Options) config() (SensorConfig, error) {
	if _, err := GainCode(o.Gain); err != nil {
		return SensorConfig{}, err
	}
	cycles, err := IntegrationCycles(o.IntegrationTimeMs)
	if err != nil {
		return SensorConfig{}, err
	}
	if _, _, err := WaitRegister(o.WaitTimeMs); err != nil {
		return SensorConfig{}, err
	}
	if _, err := PersistenceCode(o.Persistence); err != nil {
		return SensorConfig{}, err
	}
	return SensorConfig{
		Gain:              o.Gain,
		IntegrationCycles: cycles,
		WaitTimeMs:        o.WaitTimeMs,
		WaitEnabled:       o.WaitTimeMs > 0,
		Persistence:       o.Persistence,
	}, nil
}

// Status is a snapshot of the controller. It never touches the bus.
type Status struct {
	State             string     `json:"state"`
	Gain              int        `json:"gain"`
	IntegrationTimeMs float64    `json:"integration_time_ms"`
	WaitTimeMs        float64    `json:"wait_time_ms"`
	WaitEnabled       bool       `json:"wait_enabled"`
	LongWait          bool       `json:"long_wait"`
	Thresholds        Thresholds `json:"thresholds"`
	Persistence       int        `json:"persistence"`
	Revision          uint64     `json:"revision"`
	LastSample        RawSample  `json:"last_sample"`
	InterruptDrops    uint64     `json:"interrupt_drops"`
	BusStarved        uint64     `json:"bus_starved"`
}

// Driver owns one sensor and its bus handle. The configuration registers are
// only changed by Start and Recalibrate, both under the bus lock.
type Driver struct {
	bus  *Bus
	opts Options

	lifecycle sync.Mutex // serializes PowerOn, Start and Close
	poweredOn bool

	mu       sync.RWMutex
	state    State
	cfg      SensorConfig
	last     RawSample
	revision uint64

	recalQ chan struct{}
	drops  atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func New(conn Conn, opts Options) *Driver {
	opts = opts.withDefaults()
	bus := NewBus(conn)
	bus.LockTimeout = opts.LockTimeout
	return &Driver{
		bus:    bus,
		opts:   opts,
		recalQ: make(chan struct{}, 1),
	}
}

// Bus exposes the driver's bus for diagnostics.
func (d *Driver) Bus() *Bus { return d.bus }

// PowerOn checks the device ID and sets PON. Calling it again is a no-op.
func (d *Driver) PowerOn(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	return d.powerOn(ctx)
}

func (d *Driver) powerOn(ctx context.Context) error {
	if d.poweredOn {
		return nil
	}
	err := d.bus.Tx(ctx, func(r *Registers) error {
		id, err := r.DeviceID()
		if err != nil {
			return err
		}
		if id != TCS34725_ID_TCS34725 && id != TCS34725_ID_TCS34727 {
			return fmt.Errorf("%w: 0x%02X", ErrUnknownDevice, id)
		}
		return r.PowerOn()
	})
	if err != nil {
		return err
	}
	d.poweredOn = true
	l.Debug("Sensor powered on")
	return nil
}

// Start applies the start-up configuration, waits for the first integration
// cycle, then calibrates and arms the interrupt. Calling it again after a
// successful start is a no-op.
func (d *Driver) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.State() != StateOff {
		return nil
	}
	cfg, err := d.opts.config()
	if err != nil {
		return err
	}
	if err := d.powerOn(ctx); err != nil {
		return err
	}

	d.setState(StateStarting)
	err = d.bus.Tx(ctx, func(r *Registers) error {
		if err := r.DisableInterrupt(); err != nil {
			return err
		}
		if err := r.SetGain(cfg.Gain); err != nil {
			return err
		}
		if err := r.SetIntegrationCycles(cfg.IntegrationCycles); err != nil {
			return err
		}
		long, err := r.SetWaitTime(cfg.WaitTimeMs)
		if err != nil {
			return err
		}
		cfg.LongWait = long
		if cfg.WaitEnabled {
			err = r.EnableWait()
		} else {
			err = r.DisableWait()
		}
		if err != nil {
			return err
		}
		if err := r.SetPersistence(cfg.Persistence); err != nil {
			return err
		}
		return r.EnableRGBC()
	})
	if err != nil {
		d.setState(StateOff)
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.revision++
	d.mu.Unlock()

	l.WithFields(logrus.Fields{
		"gain":        GainToString(cfg.Gain),
		"integration": IntegrationTimeToString(cfg.IntegrationCycles),
		"wait_ms":     cfg.WaitTimeMs,
	}).Info("Sensor configured, waiting for first integration")

	if err := d.waitForIntegration(ctx, cfg.IntegrationCycles); err != nil {
		d.setState(StateOff)
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.worker(workerCtx)

	return d.recalibrate(ctx)
}

// waitForIntegration polls AVALID until the first cycle completes.
func (d *Driver) waitForIntegration(ctx context.Context, cycles int) error {
	integration := time.Duration(IntegrationTimeMs(cycles) * float64(time.Millisecond))
	deadline := time.Now().Add(2*integration + 50*time.Millisecond)
	poll := min(integration/4+time.Millisecond, 20*time.Millisecond)

	for {
		var status byte
		err := d.bus.Tx(ctx, func(r *Registers) error {
			var err error
			status, err = r.Status()
			return err
		})
		if err != nil {
			return err
		}
		if status&TCS34725_STATUS_AVALID != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrIntegrationTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (d *Driver) started() bool {
	s := d.State()
	return s == StateArmed || s == StateRecalibrating
}

// ReadRaw reads one sample without changing the configuration.
func (d *Driver) ReadRaw(ctx context.Context) (RawSample, error) {
	if !d.started() {
		return RawSample{}, ErrNotStarted
	}
	var sample RawSample
	err := d.bus.Tx(ctx, func(r *Registers) error {
		var err error
		sample, err = r.ReadSample()
		return err
	})
	if err != nil {
		return RawSample{}, err
	}
	d.mu.Lock()
	d.last = sample
	d.mu.Unlock()
	return sample, nil
}

// ReadPhotometric reads a sample and converts it with the configuration that
// was active while the bus lock was held.
func (d *Driver) ReadPhotometric(ctx context.Context) (Reading, error) {
	if !d.started() {
		return Reading{}, ErrNotStarted
	}
	var (
		sample   RawSample
		cfg      SensorConfig
		revision uint64
	)
	err := d.bus.Tx(ctx, func(r *Registers) error {
		var err error
		sample, err = r.ReadSample()
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.last = sample
		cfg, revision = d.cfg, d.revision
		d.mu.Unlock()
		return nil
	})
	if err != nil {
		return Reading{}, err
	}
	res := Compute(sample, cfg.Gain, cfg.IntegrationTimeMs())
	res.Revision = revision
	if res.Saturated {
		l.WithField("clear", sample.Clear).Debug("Sample saturated")
	}
	return res, nil
}

func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{
		State:             d.state.String(),
		Gain:              d.cfg.Gain,
		IntegrationTimeMs: d.cfg.IntegrationTimeMs(),
		WaitTimeMs:        d.cfg.WaitTimeMs,
		WaitEnabled:       d.cfg.WaitEnabled,
		LongWait:          d.cfg.LongWait,
		Thresholds:        d.cfg.Thresholds,
		Persistence:       d.cfg.Persistence,
		Revision:          d.revision,
		LastSample:        d.last,
		InterruptDrops:    d.drops.Load(),
		BusStarved:        d.bus.Starved(),
	}
}

// Config returns the configuration last written to the sensor.
func (d *Driver) Config() SensorConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Recalibrate runs one auto-exposure step. It works while the interrupt line
// is dead, and re-arms the interrupt after a failed step.
func (d *Driver) Recalibrate(ctx context.Context) error {
	if !d.started() {
		return ErrNotStarted
	}
	return d.recalibrate(ctx)
}

// recalibrate holds the bus lock for the whole step. On a bus error the
// cached config reflects the writes that succeeded and the interrupt may be
// left disabled.
func (d *Driver) recalibrate(ctx context.Context) error {
	err := d.bus.Tx(ctx, func(r *Registers) error {
		d.setState(StateRecalibrating)
		prev := d.Config()
		written := prev
		defer func() {
			if written != prev {
				d.mu.Lock()
				d.cfg = written
				d.revision++
				d.mu.Unlock()
			}
		}()

		if err := r.DisableInterrupt(); err != nil {
			return err
		}
		if err := r.ClearInterrupt(); err != nil {
			return err
		}
		sample, err := r.ReadSample()
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.last = sample
		d.mu.Unlock()

		next := NextExposure(prev.exposure(), sample)
		thresholds := ThresholdsFor(next)

		if err := r.SetGain(next.Gain()); err != nil {
			return err
		}
		written.Gain = next.Gain()
		if err := r.SetIntegrationCycles(next.Cycles); err != nil {
			return err
		}
		written.IntegrationCycles = next.Cycles
		if err := r.SetThresholds(thresholds); err != nil {
			return err
		}
		written.Thresholds = thresholds
		if err := r.EnableInterrupt(); err != nil {
			return err
		}

		l.WithFields(logrus.Fields{
			"clear":       sample.Clear,
			"gain":        GainToString(written.Gain),
			"integration": IntegrationTimeToString(written.IntegrationCycles),
			"low":         thresholds.Low,
			"high":        thresholds.High,
		}).Debug("Recalibrated")
		return nil
	})
	if err != nil {
		l.WithError(err).Error("Recalibration failed, interrupt may be disarmed")
		return err
	}
	d.setState(StateArmed)
	return nil
}

// HandleInterrupt queues a recalibration for the worker. It never blocks;
// interrupts that arrive while one is already queued are coalesced.
func (d *Driver) HandleInterrupt(ev Edge) {
	select {
	case d.recalQ <- struct{}{}:
	default:
		d.drops.Add(1)
	}
}

func (d *Driver) worker(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.recalQ:
			if !d.started() {
				continue
			}
			// Errors are logged by recalibrate; a manual Recalibrate re-arms.
			_ = d.recalibrate(ctx)
		}
	}
}

// Close stops the interrupt worker, powers the sensor off and closes the bus.
func (d *Driver) Close() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}
	var errs []error
	if d.poweredOn {
		errs = append(errs, d.bus.Tx(context.Background(), func(r *Registers) error {
			return r.PowerOff()
		}))
		d.poweredOn = false
	}
	d.setState(StateOff)
	errs = append(errs, d.bus.Close())
	return errors.Join(errs...)
}
