// Package hardware opens the Linux devices the color meter runs on: the I2C
// character device for the sensor and the GPIO lines for its interrupt
// output and on-board LED.
package hardware

import (
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// OpenBus opens the device at addr on an I2C character device such as
// /dev/i2c-1. The returned device satisfies tcs34725.Conn.
func OpenBus(dev string, addr int) (*i2c.Device, error) {
	device, err := i2c.Open(&i2c.Devfs{Dev: dev}, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at 0x%02X: %w", dev, addr, err)
	}
	return device, nil
}

// OpenInterruptPin looks up the GPIO wired to the sensor's INT output and
// configures it for falling edges. INT is open drain and active low.
func OpenInterruptPin(name string) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown GPIO pin %q", name)
	}
	if err := configureInterrupt(p); err != nil {
		return nil, err
	}
	return p, nil
}

func configureInterrupt(p gpio.PinIn) error {
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("failed to configure %s for edge detection: %w", p, err)
	}
	return nil
}

// LED drives the breakout's white LED.
type LED struct {
	mu  sync.Mutex
	pin gpio.PinOut
	on  bool
}

// OpenLED configures the named GPIO as an output, starting with the LED off.
func OpenLED(name string) (*LED, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown GPIO pin %q", name)
	}
	return NewLED(p)
}

func NewLED(pin gpio.PinOut) (*LED, error) {
	led := &LED{pin: pin}
	if err := led.Set(false); err != nil {
		return nil, err
	}
	return led, nil
}

func (l *LED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set(on)
}

func (l *LED) set(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("failed to drive LED: %w", err)
	}
	l.on = on
	return nil
}

// Toggle flips the LED and returns the new state.
func (l *LED) Toggle() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.set(!l.on); err != nil {
		return l.on, err
	}
	return l.on, nil
}

func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// Off switches the LED off before the process exits.
func (l *LED) Off() error {
	return l.Set(false)
}
