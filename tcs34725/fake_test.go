package tcs34725

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errFault = errors.New("fake: no acknowledge")

type regWrite struct {
	reg  byte
	data []byte
}

// fakeConn is a TCS34725 register file behind the Conn interface.
type fakeConn struct {
	mu     sync.Mutex
	regs   [0x20]byte
	writes []regWrite
	failOn map[byte]error
	clears int
	closed bool
}

func newFakeConn() *fakeConn {
	f := &fakeConn{failOn: map[byte]error{}}
	f.regs[TCS34725_REGISTER_ID] = TCS34725_ID_TCS34725
	f.regs[TCS34725_REGISTER_STATUS] = TCS34725_STATUS_AVALID
	f.regs[TCS34725_REGISTER_ATIME] = 0xFF
	return f
}

func decodeCommand(cmd byte) (reg byte, auto bool, err error) {
	if cmd&TCS34725_COMMAND_BIT == 0 {
		return 0, false, fmt.Errorf("fake: command bit missing in 0x%02X", cmd)
	}
	return cmd & 0x1F, cmd&0x60 == TCS34725_COMMAND_AUTO_INC, nil
}

func (f *fakeConn) ReadReg(cmd byte, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, auto, err := decodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := f.failOn[reg]; err != nil {
		return err
	}
	if !auto && len(buf) > 1 {
		return fmt.Errorf("fake: %d byte read from 0x%02X without auto-increment", len(buf), reg)
	}
	for i := range buf {
		buf[i] = f.regs[int(reg)+i]
	}
	return nil
}

func (f *fakeConn) WriteReg(cmd byte, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, auto, err := decodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := f.failOn[reg]; err != nil {
		return err
	}
	if !auto && len(buf) > 1 {
		return fmt.Errorf("fake: %d byte write to 0x%02X without auto-increment", len(buf), reg)
	}
	copy(f.regs[reg:], buf)
	f.writes = append(f.writes, regWrite{reg: reg, data: append([]byte(nil), buf...)})
	return nil
}

func (f *fakeConn) Write(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(buf) != 1 || buf[0] != 0xE6 {
		return fmt.Errorf("fake: unexpected raw write %v", buf)
	}
	if err := f.failOn[buf[0]]; err != nil {
		return err
	}
	f.regs[TCS34725_REGISTER_STATUS] &^= TCS34725_STATUS_AINT
	f.clears++
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) setSample(s RawSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	binary.LittleEndian.PutUint16(f.regs[TCS34725_REGISTER_CDATAL:], s.Clear)
	binary.LittleEndian.PutUint16(f.regs[TCS34725_REGISTER_RDATAL:], s.Red)
	binary.LittleEndian.PutUint16(f.regs[TCS34725_REGISTER_GDATAL:], s.Green)
	binary.LittleEndian.PutUint16(f.regs[TCS34725_REGISTER_BDATAL:], s.Blue)
}

func (f *fakeConn) fail(reg byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, reg)
		return
	}
	f.failOn[reg] = err
}

func (f *fakeConn) reg(reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

func (f *fakeConn) reg16(reg byte) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return binary.LittleEndian.Uint16(f.regs[reg:])
}

func (f *fakeConn) writeLog() []regWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]regWrite(nil), f.writes...)
}

// fakeEdgePin delivers edges pushed onto its channel.
type fakeEdgePin struct {
	edges chan struct{}
}

func (p *fakeEdgePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}
