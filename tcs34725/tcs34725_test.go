package tcs34725

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedDriver(t *testing.T, opts Options) (*Driver, *fakeConn) {
	t.Helper()
	fake := newFakeConn()
	d := New(fake, opts)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d, fake
}

func TestStartArmsInterrupt(t *testing.T) {
	d, fake := startedDriver(t, Options{})

	assert.Equal(t, StateArmed, d.State())
	enable := fake.reg(TCS34725_REGISTER_ENABLE)
	assert.Equal(t, TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN|TCS34725_ENABLE_AIEN, enable)
	assert.Equal(t, byte(4), fake.reg(TCS34725_REGISTER_PERS))
	assert.Equal(t, 1, fake.clears)

	// A dark first sample bumps the gain from 1x to 4x.
	cfg := d.Config()
	assert.Equal(t, 4, cfg.Gain)
	assert.Equal(t, 64, cfg.IntegrationCycles)
	assert.Equal(t, Thresholds{Low: 100, High: 62258}, cfg.Thresholds)
	assert.Equal(t, byte(0x01), fake.reg(TCS34725_REGISTER_CONTROL))
	assert.Equal(t, uint16(100), fake.reg16(TCS34725_REGISTER_AILTL))
	assert.Equal(t, uint16(62258), fake.reg16(TCS34725_REGISTER_AIHTL))

	st := d.Status()
	assert.Equal(t, "armed", st.State)
	assert.Equal(t, uint64(2), st.Revision)
	assert.False(t, st.WaitEnabled)
}

func TestStartWithWait(t *testing.T) {
	d, fake := startedDriver(t, Options{Gain: 16, IntegrationTimeMs: 300, WaitTimeMs: 1000})

	assert.NotZero(t, fake.reg(TCS34725_REGISTER_ENABLE)&TCS34725_ENABLE_WEN)
	assert.Equal(t, TCS34725_CONFIG_WLONG, fake.reg(TCS34725_REGISTER_CONFIG))
	st := d.Status()
	assert.True(t, st.WaitEnabled)
	assert.True(t, st.LongWait)
	assert.Equal(t, 60, st.Gain)
	assert.InDelta(t, 300.0, st.IntegrationTimeMs, 0.1)
}

func TestStartIsIdempotent(t *testing.T) {
	d, fake := startedDriver(t, Options{})
	n := len(fake.writeLog())
	rev := d.Status().Revision

	require.NoError(t, d.Start(context.Background()))
	assert.Len(t, fake.writeLog(), n)
	assert.Equal(t, rev, d.Status().Revision)
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	for _, opts := range []Options{
		{Gain: 2},
		{IntegrationTimeMs: -5},
		{WaitTimeMs: -1},
		{Persistence: 4},
	} {
		fake := newFakeConn()
		d := New(fake, opts)
		err := d.Start(context.Background())
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", opts)
		assert.Empty(t, fake.writeLog(), "%+v", opts)
		assert.Equal(t, StateOff, d.State())
	}
}

func TestStartUnknownDevice(t *testing.T) {
	fake := newFakeConn()
	fake.regs[TCS34725_REGISTER_ID] = 0x50
	d := New(fake, Options{})

	err := d.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, StateOff, d.State())
	assert.Empty(t, fake.writeLog())
}

func TestStartIntegrationTimeout(t *testing.T) {
	fake := newFakeConn()
	fake.regs[TCS34725_REGISTER_STATUS] = 0
	d := New(fake, Options{IntegrationTimeMs: 2.4})

	err := d.Start(context.Background())
	assert.ErrorIs(t, err, ErrIntegrationTimeout)
	assert.Equal(t, StateOff, d.State())
}

func TestOperationsBeforeStart(t *testing.T) {
	d := New(newFakeConn(), Options{})
	ctx := context.Background()

	_, err := d.ReadRaw(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = d.ReadPhotometric(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, d.Recalibrate(ctx), ErrNotStarted)
	assert.Equal(t, "off", d.Status().State)
}

func TestPowerOnIsIdempotent(t *testing.T) {
	fake := newFakeConn()
	d := New(fake, Options{})
	require.NoError(t, d.PowerOn(context.Background()))
	require.NoError(t, d.PowerOn(context.Background()))
	assert.Len(t, fake.writeLog(), 1)
	assert.Equal(t, TCS34725_ENABLE_PON, fake.reg(TCS34725_REGISTER_ENABLE))
	assert.Equal(t, StateOff, d.State())
}

func TestReadPhotometric(t *testing.T) {
	d, fake := startedDriver(t, Options{})
	sample := RawSample{Red: 1000, Green: 1200, Blue: 800, Clear: 2800}
	fake.setSample(sample)

	res, err := d.ReadPhotometric(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Compute(sample, 4, IntegrationTimeMs(64)).Lux, res.Lux)
	assert.Equal(t, d.Status().Revision, res.Revision)
	assert.Equal(t, sample, d.Status().LastSample)

	raw, err := d.ReadRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample, raw)

	fake.setSample(RawSample{Clear: 65535})
	res, err = d.ReadPhotometric(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Saturated)
}

func TestRecalibrateAfterBusError(t *testing.T) {
	d, fake := startedDriver(t, Options{})
	ctx := context.Background()
	before := d.Config()
	rev := d.Status().Revision

	// Gain and ATIME land, the threshold write does not.
	fake.setSample(RawSample{Clear: 50})
	fake.fail(TCS34725_REGISTER_AILTL, errFault)
	err := d.Recalibrate(ctx)
	var busErr *BusError
	require.True(t, errors.As(err, &busErr))
	assert.ErrorIs(t, err, errFault)

	assert.Equal(t, StateRecalibrating, d.State())
	assert.Zero(t, fake.reg(TCS34725_REGISTER_ENABLE)&TCS34725_ENABLE_AIEN)
	cfg := d.Config()
	assert.Equal(t, 16, cfg.Gain)
	assert.Equal(t, before.Thresholds, cfg.Thresholds)
	assert.Equal(t, rev+1, d.Status().Revision)

	// Reads still work while disarmed.
	_, err = d.ReadRaw(ctx)
	require.NoError(t, err)

	fake.fail(TCS34725_REGISTER_AILTL, nil)
	fake.setSample(RawSample{Clear: 500})
	require.NoError(t, d.Recalibrate(ctx))
	assert.Equal(t, StateArmed, d.State())
	assert.NotZero(t, fake.reg(TCS34725_REGISTER_ENABLE)&TCS34725_ENABLE_AIEN)
	assert.Equal(t, 4, d.Config().Gain)
}

func TestRecalibrateFailureBeforeWrites(t *testing.T) {
	d, fake := startedDriver(t, Options{})
	rev := d.Status().Revision

	fake.fail(TCS34725_REGISTER_CDATAL, errFault)
	require.Error(t, d.Recalibrate(context.Background()))
	assert.Equal(t, rev, d.Status().Revision)
	assert.Equal(t, StateRecalibrating, d.State())
}

func TestInterruptTriggersRecalibration(t *testing.T) {
	d, fake := startedDriver(t, Options{})
	bridge := NewBridge(nil)
	require.NoError(t, bridge.Register(d))

	rev := d.Status().Revision
	fake.setSample(RawSample{Clear: 20})
	bridge.Fire()

	require.Eventually(t, func() bool {
		return d.Status().Revision > rev
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 16, d.Config().Gain)
	assert.Equal(t, StateArmed, d.State())
}

func TestHandleInterruptCoalesces(t *testing.T) {
	d := New(newFakeConn(), Options{})
	// No worker is running, so the queue stays full after the first edge.
	for i := 0; i < 5; i++ {
		d.HandleInterrupt(Edge{Seq: uint64(i)})
	}
	assert.Equal(t, uint64(4), d.Status().InterruptDrops)
}

func TestClose(t *testing.T) {
	fake := newFakeConn()
	d := New(fake, Options{})
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Close())
	assert.Equal(t, StateOff, d.State())
	assert.Zero(t, fake.reg(TCS34725_REGISTER_ENABLE)&(TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN|TCS34725_ENABLE_AIEN))
	assert.True(t, fake.closed)

	_, err := d.ReadRaw(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "recalibrating", StateRecalibrating.String())
	assert.Equal(t, "unknown", State(42).String())
}
