package tcs34725

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Conn is a connection to a single device on the I2C bus.
// It is satisfied by *i2c.Device from golang.org/x/exp/io/i2c.
type Conn interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
	Write(buf []byte) error
	Close() error
}

const DefaultLockTimeout = 2 * time.Second

// ErrBusBusy is wrapped by the BusError returned when the bus lock could not
// be acquired within the lock timeout.
var ErrBusBusy = errors.New("tcs34725: bus busy")

// BusError reports a failed bus transaction. Writes that fail must not be
// assumed to have taken effect.
type BusError struct {
	Op  string
	Reg byte
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("tcs34725: %s 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// Bus serializes every transaction against the sensor. A transaction holds
// the lock for its whole duration, and Tx lets a caller run a multi-register
// sequence under a single acquisition.
type Bus struct {
	conn        Conn
	sem         chan struct{}
	LockTimeout time.Duration

	starved atomic.Uint64
}

func NewBus(conn Conn) *Bus {
	return &Bus{
		conn:        conn,
		sem:         make(chan struct{}, 1),
		LockTimeout: DefaultLockTimeout,
	}
}

func (b *Bus) lock(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}

	timeout := b.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &BusError{Op: "lock", Err: ctx.Err()}
	case <-timer.C:
		n := b.starved.Add(1)
		l.WithFields(logrus.Fields{
			"timeout": timeout,
			"starved": n,
		}).Warn("Gave up waiting for the bus lock")
		return &BusError{Op: "lock", Err: ErrBusBusy}
	}
}

func (b *Bus) unlock() { <-b.sem }

// Tx acquires the bus lock, runs fn, and releases the lock on every exit path.
// The Registers handle is only valid inside fn.
func (b *Bus) Tx(ctx context.Context, fn func(r *Registers) error) error {
	if err := b.lock(ctx); err != nil {
		return err
	}
	defer b.unlock()
	return fn(&Registers{conn: b.conn})
}

// Starved returns how many lock acquisitions timed out.
func (b *Bus) Starved() uint64 { return b.starved.Load() }

func (b *Bus) Read8(ctx context.Context, addr byte) (uint8, error) {
	var v uint8
	err := b.Tx(ctx, func(r *Registers) error {
		var err error
		v, err = r.Read8(addr)
		return err
	})
	return v, err
}

func (b *Bus) Read16(ctx context.Context, lowAddr byte) (uint16, error) {
	var v uint16
	err := b.Tx(ctx, func(r *Registers) error {
		var err error
		v, err = r.Read16(lowAddr)
		return err
	})
	return v, err
}

func (b *Bus) Write8(ctx context.Context, addr byte, v uint8) error {
	return b.Tx(ctx, func(r *Registers) error { return r.Write8(addr, v) })
}

func (b *Bus) Write16(ctx context.Context, addr byte, v uint16) error {
	return b.Tx(ctx, func(r *Registers) error { return r.Write16(addr, v) })
}

func (b *Bus) ClearInterrupt(ctx context.Context) error {
	return b.Tx(ctx, func(r *Registers) error { return r.ClearInterrupt() })
}

// Close waits for any transaction in flight and closes the connection.
func (b *Bus) Close() error {
	if err := b.lock(context.Background()); err != nil {
		return err
	}
	defer b.unlock()
	return b.conn.Close()
}

// Registers performs transactions on a bus whose lock is already held.
type Registers struct {
	conn Conn
}

func (r *Registers) Read8(addr byte) (uint8, error) {
	buf := []byte{0}
	if err := r.conn.ReadReg(commandByte(addr), buf); err != nil {
		return 0, &BusError{Op: "read8", Reg: addr, Err: err}
	}
	return buf[0], nil
}

// Read16 reads a little-endian word starting at lowAddr.
func (r *Registers) Read16(lowAddr byte) (uint16, error) {
	buf := []byte{0, 0}
	if err := r.conn.ReadReg(autoIncrementByte(lowAddr), buf); err != nil {
		return 0, &BusError{Op: "read16", Reg: lowAddr, Err: err}
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadBurst fills buf from sequential registers starting at addr.
func (r *Registers) ReadBurst(addr byte, buf []byte) error {
	if err := r.conn.ReadReg(autoIncrementByte(addr), buf); err != nil {
		return &BusError{Op: "burst", Reg: addr, Err: err}
	}
	return nil
}

func (r *Registers) Write8(addr byte, v uint8) error {
	if err := r.conn.WriteReg(commandByte(addr), []byte{v}); err != nil {
		return &BusError{Op: "write8", Reg: addr, Err: err}
	}
	return nil
}

func (r *Registers) Write16(addr byte, v uint16) error {
	if err := r.conn.WriteReg(autoIncrementByte(addr), binary.LittleEndian.AppendUint16(nil, v)); err != nil {
		return &BusError{Op: "write16", Reg: addr, Err: err}
	}
	return nil
}

// ClearInterrupt issues the special function that clears a pending clear
// channel interrupt.
func (r *Registers) ClearInterrupt() error {
	cmd := specialFunctionByte(TCS34725_SPECIAL_CLEAR_INTR)
	if err := r.conn.Write([]byte{cmd}); err != nil {
		return &BusError{Op: "clear interrupt", Reg: cmd, Err: err}
	}
	return nil
}
