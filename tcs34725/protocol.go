package tcs34725

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidConfig = errors.New("tcs34725: invalid configuration")
	ErrUnknownDevice = errors.New("tcs34725: unknown device id")
)

func commandByte(reg byte) byte {
	return TCS34725_COMMAND_BIT | reg
}

func autoIncrementByte(reg byte) byte {
	return TCS34725_COMMAND_BIT | TCS34725_COMMAND_AUTO_INC | reg
}

func specialFunctionByte(fn byte) byte {
	return TCS34725_COMMAND_BIT | TCS34725_COMMAND_SPECIAL | fn
}

// GainCode returns the CONTROL register code for a gain multiplier.
func GainCode(gain int) (byte, error) {
	for i, g := range Gains {
		if g == gain {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("%w: gain %dx is not one of %v", ErrInvalidConfig, gain, Gains)
}

// GainValue returns the gain multiplier for a CONTROL register value.
func GainValue(code byte) int {
	return Gains[code&0x03]
}

func clampCycles(count int) int {
	if count < 1 {
		return 1
	}
	if count > TCS34725_MAX_CYCLES {
		return TCS34725_MAX_CYCLES
	}
	return count
}

// cyclesFor converts milliseconds to a representable cycle count.
func cyclesFor(ms float64) int {
	return clampCycles(int(math.Round(ms / TCS34725_CYCLE_MS)))
}

// IntegrationCycles converts an integration time to whole 2.4ms cycles,
// clamped to 1..256.
func IntegrationCycles(ms float64) (int, error) {
	if math.IsNaN(ms) || ms <= 0 {
		return 0, fmt.Errorf("%w: integration time %vms", ErrInvalidConfig, ms)
	}
	return cyclesFor(ms), nil
}

func IntegrationTimeMs(cycles int) float64 {
	return float64(cycles) * TCS34725_CYCLE_MS
}

// ATIME returns the register value for a cycle count (two's complement).
func ATIME(cycles int) (byte, error) {
	if cycles < 1 || cycles > TCS34725_MAX_CYCLES {
		return 0, fmt.Errorf("%w: %d integration cycles", ErrInvalidConfig, cycles)
	}
	return byte(TCS34725_MAX_CYCLES - cycles), nil
}

func CyclesFromATIME(reg byte) int {
	return TCS34725_MAX_CYCLES - int(reg)
}

// WaitRegister returns the WTIME value and WLONG mode for a wait time. Waits
// longer than 256 cycles switch to long wait, where each count is 12 cycles.
func WaitRegister(ms float64) (reg byte, long bool, err error) {
	if math.IsNaN(ms) || ms < 0 {
		return 0, false, fmt.Errorf("%w: wait time %vms", ErrInvalidConfig, ms)
	}
	count := int(math.Round(ms / TCS34725_CYCLE_MS))
	if count > TCS34725_MAX_CYCLES {
		long = true
		count = int(math.Round(ms / (TCS34725_CYCLE_MS * TCS34725_LONG_WAIT_MULT)))
	}
	return byte(TCS34725_MAX_CYCLES - clampCycles(count)), long, nil
}

func WaitTimeMs(reg byte, long bool) float64 {
	ms := float64(TCS34725_MAX_CYCLES-int(reg)) * TCS34725_CYCLE_MS
	if long {
		ms *= TCS34725_LONG_WAIT_MULT
	}
	return ms
}

// PersistenceCode returns the PERS register value for a cycle count.
func PersistenceCode(cycles int) (byte, error) {
	for i, c := range persistenceCycles {
		if c == cycles {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("%w: persistence of %d cycles is not one of %v", ErrInvalidConfig, cycles, persistenceCycles)
}

func PersistenceCycles(code byte) int {
	return persistenceCycles[code&0x0F]
}

// Thresholds are the clear channel interrupt bounds in raw counts.
type Thresholds struct {
	Low  uint16 `json:"low"`
	High uint16 `json:"high"`
}

func (r *Registers) Enable() (byte, error) {
	return r.Read8(TCS34725_REGISTER_ENABLE)
}

func (r *Registers) SetEnable(v byte) error {
	return r.Write8(TCS34725_REGISTER_ENABLE, v)
}

func (r *Registers) updateEnable(set, clear byte) error {
	v, err := r.Enable()
	if err != nil {
		return err
	}
	return r.SetEnable((v | set) &^ clear)
}

// PowerOn sets PON and waits for the oscillator to settle.
func (r *Registers) PowerOn() error {
	if err := r.updateEnable(TCS34725_ENABLE_PON, 0); err != nil {
		return err
	}
	time.Sleep(TCS34725_POWER_ON_DELAY)
	return nil
}

func (r *Registers) PowerOff() error {
	return r.updateEnable(0, TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN|TCS34725_ENABLE_AIEN)
}

func (r *Registers) EnableRGBC() error {
	return r.updateEnable(TCS34725_ENABLE_AEN, 0)
}

func (r *Registers) EnableWait() error {
	return r.updateEnable(TCS34725_ENABLE_WEN, 0)
}

func (r *Registers) DisableWait() error {
	return r.updateEnable(0, TCS34725_ENABLE_WEN)
}

func (r *Registers) EnableInterrupt() error {
	return r.updateEnable(TCS34725_ENABLE_AIEN, 0)
}

func (r *Registers) DisableInterrupt() error {
	return r.updateEnable(0, TCS34725_ENABLE_AIEN)
}

func (r *Registers) IntegrationCycles() (int, error) {
	v, err := r.Read8(TCS34725_REGISTER_ATIME)
	if err != nil {
		return 0, err
	}
	return CyclesFromATIME(v), nil
}

func (r *Registers) SetIntegrationCycles(cycles int) error {
	v, err := ATIME(cycles)
	if err != nil {
		return err
	}
	return r.Write8(TCS34725_REGISTER_ATIME, v)
}

func (r *Registers) Gain() (int, error) {
	v, err := r.Read8(TCS34725_REGISTER_CONTROL)
	if err != nil {
		return 0, err
	}
	return GainValue(v), nil
}

func (r *Registers) SetGain(gain int) error {
	code, err := GainCode(gain)
	if err != nil {
		return err
	}
	return r.Write8(TCS34725_REGISTER_CONTROL, code)
}

func (r *Registers) LongWait() (bool, error) {
	v, err := r.Read8(TCS34725_REGISTER_CONFIG)
	if err != nil {
		return false, err
	}
	return v&TCS34725_CONFIG_WLONG != 0, nil
}

func (r *Registers) WaitTime() (ms float64, long bool, err error) {
	long, err = r.LongWait()
	if err != nil {
		return 0, false, err
	}
	v, err := r.Read8(TCS34725_REGISTER_WTIME)
	if err != nil {
		return 0, false, err
	}
	return WaitTimeMs(v, long), long, nil
}

// SetWaitTime writes the WLONG mode before WTIME, since WTIME is interpreted
// according to the mode.
func (r *Registers) SetWaitTime(ms float64) (long bool, err error) {
	v, long, err := WaitRegister(ms)
	if err != nil {
		return false, err
	}
	var cfg byte
	if long {
		cfg = TCS34725_CONFIG_WLONG
	}
	if err := r.Write8(TCS34725_REGISTER_CONFIG, cfg); err != nil {
		return false, err
	}
	return long, r.Write8(TCS34725_REGISTER_WTIME, v)
}

func (r *Registers) Thresholds() (Thresholds, error) {
	low, err := r.Read16(TCS34725_REGISTER_AILTL)
	if err != nil {
		return Thresholds{}, err
	}
	high, err := r.Read16(TCS34725_REGISTER_AIHTL)
	if err != nil {
		return Thresholds{}, err
	}
	return Thresholds{Low: low, High: high}, nil
}

func (r *Registers) SetThresholds(t Thresholds) error {
	if err := r.Write16(TCS34725_REGISTER_AILTL, t.Low); err != nil {
		return err
	}
	return r.Write16(TCS34725_REGISTER_AIHTL, t.High)
}

func (r *Registers) Persistence() (int, error) {
	v, err := r.Read8(TCS34725_REGISTER_PERS)
	if err != nil {
		return 0, err
	}
	return PersistenceCycles(v), nil
}

func (r *Registers) SetPersistence(cycles int) error {
	code, err := PersistenceCode(cycles)
	if err != nil {
		return err
	}
	return r.Write8(TCS34725_REGISTER_PERS, code)
}

func (r *Registers) Status() (byte, error) {
	return r.Read8(TCS34725_REGISTER_STATUS)
}

func (r *Registers) DeviceID() (byte, error) {
	return r.Read8(TCS34725_REGISTER_ID)
}

// ReadSample reads all four channels in one auto-increment burst so the
// channels come from the same integration cycle.
func (r *Registers) ReadSample() (RawSample, error) {
	buf := make([]byte, 8)
	if err := r.ReadBurst(TCS34725_REGISTER_CDATAL, buf); err != nil {
		return RawSample{}, err
	}
	return RawSample{
		Clear: binary.LittleEndian.Uint16(buf[0:]),
		Red:   binary.LittleEndian.Uint16(buf[2:]),
		Green: binary.LittleEndian.Uint16(buf[4:]),
		Blue:  binary.LittleEndian.Uint16(buf[6:]),
	}, nil
}
