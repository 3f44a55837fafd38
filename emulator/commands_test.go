package emulator

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandKey(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("G1", commandKey("G1 X10"))
	assert.Equal("M105", commandKey("m105"))
	assert.Equal("T", commandKey("T2"))
	assert.Equal("T", commandKey("T0 ; select"))
	assert.Equal("TX", commandKey("TX"))
	assert.Equal("", commandKey("   "))
}

func TestComposeResponse(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("ok\n", composeResponse(""))
	assert.Equal("ok T:27.0 / 0.0\n", composeResponse("ok T:27.0 / 0.0\n"))
	assert.Equal("A hello\nok\n", composeResponse("A hello"))
}

func TestCommands_MovementAndPositionReport(t *testing.T) {
	e := newTestEmulator(t)

	assert.Equal(t, "ok\n", exchangeOne(t, e, "G1 X10 Y5 Z2 E1"))
	assert.Equal(t,
		"X:10.00 Y: 5.00 Z: 2.00 E: 1.00 Count X: 0.00 Y: 0.00 Z: 0.00\nok\n",
		exchangeOne(t, e, "M114"))
}

func TestCommands_PartialAxes(t *testing.T) {
	require := require.New(t)
	e := newTestEmulator(t)

	exchange(t, e, "G1 X10 Y5 Z2")
	exchange(t, e, "G0 Y7")

	pos := e.Position()
	require.InDelta(10.0, pos.X, 1e-9)
	require.InDelta(7.0, pos.Y, 1e-9)
	require.InDelta(2.0, pos.Z, 1e-9)
}

func TestCommands_RelativePositioning(t *testing.T) {
	require := require.New(t)
	e := newTestEmulator(t)

	exchange(t, e, "G1 X10 Y10 Z1 E2")
	exchange(t, e, "G91")
	exchange(t, e, "G1 X.1 E1")
	exchange(t, e, "G1 X-.1")
	exchange(t, e, "G90")
	exchange(t, e, "G1 Y3")

	pos := e.Position()
	require.InDelta(10.0, pos.X, 1e-9)
	require.InDelta(3.0, pos.Y, 1e-9)
	require.InDelta(3.0, pos.E, 1e-9)

	exchange(t, e, "M83")
	exchange(t, e, "G1 X20 E0.5")
	pos = e.Position()
	require.InDelta(20.0, pos.X, 1e-9)
	require.InDelta(3.5, pos.E, 1e-9)

	exchange(t, e, "M82")
	exchange(t, e, "G1 E1")
	require.InDelta(1.0, e.Position().E, 1e-9)
}

func TestCommands_ExtrusionAccounting(t *testing.T) {
	require := require.New(t)
	e := newTestEmulator(t)

	exchange(t, e, "G1 E5")
	exchange(t, e, "G1 E8")
	ex := e.Extruders()[0]
	require.InDelta(8.0, ex.EPosition, 1e-9)
	require.InDelta(5.0, ex.LastEPosition, 1e-9)
	require.InDelta(8.0, ex.AbsoluteEPosition, 1e-9)

	// G92 resets the raw position only
	exchange(t, e, "G92 E0")
	ex = e.Extruders()[0]
	require.InDelta(0.0, ex.EPosition, 1e-9)
	require.InDelta(0.0, ex.LastEPosition, 1e-9)
	require.InDelta(8.0, ex.AbsoluteEPosition, 1e-9)

	exchange(t, e, "G1 E2")
	require.InDelta(10.0, e.Extruders()[0].AbsoluteEPosition, 1e-9)

	// G0 moves the filament without accounting it
	exchange(t, e, "G0 E4")
	ex = e.Extruders()[0]
	require.InDelta(4.0, ex.EPosition, 1e-9)
	require.InDelta(10.0, ex.AbsoluteEPosition, 1e-9)
}

func TestCommands_G92SetsAxes(t *testing.T) {
	e := newTestEmulator(t)

	exchange(t, e, "G91")
	exchange(t, e, "G92 X5 Z1")

	pos := e.Position()
	assert.InDelta(t, 5.0, pos.X, 1e-9)
	assert.InDelta(t, 1.0, pos.Z, 1e-9)
}

func TestCommands_Home(t *testing.T) {
	e := newTestEmulator(t)

	exchange(t, e, "G1 X10 Y5 Z2 E1")
	assert.Equal(t, "ok\n", exchangeOne(t, e, "G28"))

	pos := e.Position()
	assert.Equal(t, Position{E: 1}, pos)
}

func TestCommands_ExtruderGrowth(t *testing.T) {
	require := require.New(t)
	e := newTestEmulator(t)

	require.Len(e.Extruders(), 1)
	require.Equal("ok\n", exchangeOne(t, e, "M104 T2 S200"))

	extruders := e.Extruders()
	require.Len(extruders, 3)
	for i, ex := range extruders {
		require.Equal(i, ex.Index)
	}
	require.Equal("Hotend3", extruders[2].Name)
	require.InDelta(200.0, extruders[2].Target, 1e-9)
	require.InDelta(0.0, extruders[1].Target, 1e-9)
	require.InDelta(DefaultExtruderTemp, extruders[1].Current, 1e-9)

	require.Eventually(func() bool {
		return e.Extruders()[2].Current == 200
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCommands_ExtruderLimit(t *testing.T) {
	require := require.New(t)
	e := newTestEmulator(t, WithMaxExtruders(2))

	require.Equal("ok\n", exchangeOne(t, e, "M104 T1000000 S200"))
	require.Equal("ok\n", exchangeOne(t, e, "T999999"))
	require.Len(e.Extruders(), 1)
	require.Equal(uint64(2), e.Metrics().HandlerErrCount.Load())

	require.Equal("ok\n", exchangeOne(t, e, "T1"))
	require.Len(e.Extruders(), 2)
	require.Equal("ok\n", exchangeOne(t, e, "M104 T2 S200"))
	require.Len(e.Extruders(), 2)
}

func TestCommands_TemperatureReport(t *testing.T) {
	t.Run("single extruder with bed", func(t *testing.T) {
		e := newTestEmulator(t)
		assert.Equal(t, "ok T:27.0 / 0.0 B: 26.0 / 0.0\n", exchangeOne(t, e, "M105"))
	})

	t.Run("no heated bed", func(t *testing.T) {
		e := newTestEmulator(t, WithoutHeatedBed())
		assert.Equal(t, "ok T:27.0 / 0.0\n", exchangeOne(t, e, "M105"))

		_, ok := e.Bed()
		assert.False(t, ok)
		assert.Equal(t, "ok\n", exchangeOne(t, e, "M140 S60"))
	})

	t.Run("multiple extruders", func(t *testing.T) {
		e := newTestEmulator(t)
		exchange(t, e, "M104 T1 S0")
		assert.Equal(t, "ok T0:27.0 / 0.0 T1:27.0 / 0.0 B: 26.0 / 0.0\n", exchangeOne(t, e, "M105"))
	})

	t.Run("targets reached", func(t *testing.T) {
		e := newTestEmulator(t)
		exchange(t, e, "M109 S215")
		exchange(t, e, "M190 S60")

		require.Eventually(t, func() bool {
			bed, _ := e.Bed()
			return e.Extruders()[0].Current == 215 && bed.Current == 60
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, "ok T:215.0 / 215.0 B: 60.0 / 60.0\n", exchangeOne(t, e, "M105"))
	})
}

func TestCommands_MalformedArgumentsStillAcknowledge(t *testing.T) {
	e := newTestEmulator(t)

	for _, line := range []string{"M104", "M106 S", "M106 Sfast", "M190", "T-1", "T"} {
		assert.Equal(t, "ok\n", exchangeOne(t, e, line), line)
	}
	assert.Equal(t, uint64(6), e.Metrics().HandlerErrCount.Load())
	assert.Len(t, e.Extruders(), 1)
}

func TestCommands_UnknownCommand(t *testing.T) {
	e := newTestEmulator(t)

	assert.Equal(t, "ok\n", exchangeOne(t, e, "M999 S1"))
	assert.Equal(t, "ok\n", exchangeOne(t, e, "; only a comment"))
	assert.Equal(t, uint64(1), e.Metrics().UnknownCmdCount.Load())
}

func TestCommands_FanSpeed(t *testing.T) {
	e := newTestEmulator(t)

	exchange(t, e, "M106 S128")
	assert.Equal(t, 128, e.FanSpeed())

	// out of range values pass through unchanged
	exchange(t, e, "M106 S300")
	assert.Equal(t, 300, e.FanSpeed())

	exchange(t, e, "M107")
	assert.Equal(t, 0, e.FanSpeed())
}

func TestCommands_SelectExtruder(t *testing.T) {
	require := require.New(t)
	e := newTestEmulator(t)

	require.Equal("ok\n", exchangeOne(t, e, "T1"))
	require.Equal(1, e.ActiveExtruder())
	require.Len(e.Extruders(), 2)

	exchange(t, e, "G1 E3")
	exchange(t, e, "M104 S190")
	require.InDelta(3.0, e.Extruders()[1].EPosition, 1e-9)
	require.InDelta(0.0, e.Extruders()[0].EPosition, 1e-9)
	require.InDelta(190.0, e.Extruders()[1].Target, 1e-9)
}

func TestCommands_SDCard(t *testing.T) {
	e := newTestEmulator(t)

	assert.Equal(t, []string{
		"Begin file list\n",
		"Item 1.gcode\n",
		"Item 2.gcode\n",
		"End file list\n",
		"ok\n",
	}, exchange(t, e, "M20"))

	assert.Equal(t, []string{"SD card ok\n", "ok\n"}, exchange(t, e, "M21"))
}

func TestCommands_Probe(t *testing.T) {
	e := newTestEmulator(t)

	resp := exchangeOne(t, e, "G30")
	assert.Regexp(t, regexp.MustCompile(`^Bed Position X: 0 Y: 0 Z: [0-9.]+\nok\n$`), resp)
}

func TestCommands_FirmwareInfo(t *testing.T) {
	e := newTestEmulator(t)

	resp := exchangeOne(t, e, "M115")
	assert.True(t, strings.HasPrefix(resp, "FIRMWARE_NAME:Marlin V1"))
	assert.True(t, strings.HasSuffix(resp, "\nok\n"))
}

func TestCommands_Endstops(t *testing.T) {
	e := newTestEmulator(t)

	assert.Contains(t, exchangeOne(t, e, "M119"), "ros_filament: open\n")

	e.SetFilamentRunout(true)
	assert.Contains(t, exchangeOne(t, e, "M119"), "ros_filament: TRIGGERED\n")
}

func TestCommands_Echo(t *testing.T) {
	e := newTestEmulator(t)

	assert.Equal(t, "A ping\nok\n", exchangeOne(t, e, "A ping"))
}

func TestCommands_Dwell(t *testing.T) {
	e := newTestEmulator(t)

	start := time.Now()
	exchange(t, e, "G4 P30")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	start = time.Now()
	exchange(t, e, "G4 S0.02")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCommands_DwellDoesNotBlockSubmit(t *testing.T) {
	e := newTestEmulator(t)

	e.Submit("G4 P100")
	done := make(chan struct{})
	go func() {
		for range 10 {
			e.Submit("M105")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("Submit blocked during dwell")
	}
}

func TestCommands_RunSlow(t *testing.T) {
	e := newTestEmulator(t, WithRunSlow(true))

	start := time.Now()
	exchange(t, e, "G28")
	assert.GreaterOrEqual(t, time.Since(start), DefaultSlowDelay)
}
