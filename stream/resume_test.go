package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-gcodelink/emulator"
	"github.com/stretchr/testify/require"
)

// sendToEmulator submits line and waits for its acknowledgment.
func sendToEmulator(t *testing.T, emu *emulator.Emulator, line string) {
	t.Helper()

	emu.Submit(line)
	deadline := time.After(2 * time.Second)
	for {
		for emu.HasResponse() {
			resp := emu.TakeResponse()
			if resp == "ok\n" || strings.HasSuffix(resp, "\nok\n") || strings.HasPrefix(resp, "ok ") {
				return
			}
		}
		select {
		case <-emu.Responses():
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("emulator did not acknowledge %q", line)
		}
	}
}

func TestPauseHandler_ResumeAccuracy(t *testing.T) {
	require := require.New(t)

	emu, err := emulator.New(emulator.WithoutHeatedBed())
	require.NoError(err)
	require.NoError(emu.Open())
	t.Cleanup(func() { _ = emu.Close() })
	require.Equal(emulator.Banner, emu.TakeResponse())

	job := NewLines(
		"G28",
		"G1 X10 Y20 Z0.3 E1 F1200",
		"G1 X15.5 Y21 E2.25",
		"; LAYER:1",
		"G1 Z0.6",
		"G1 X30 Y5 E4",
	)
	ph := newTestPauseHandler(t, NewSwitcher(job), nil, PauseSettings{
		PauseGCode:     `G91\nG1 Z5 E-1\nG90\nG1 X0 Y0`,
		ResumeGCode:    "M106 S255",
		LayersToPause:  []int{1},
		PerimeterSpeed: 25,
	})
	pipeline := NewQueuedCommands(ph, nil)

	step := func() {
		line, ok := pipeline.NextLine()
		require.True(ok)
		if line != "" {
			sendToEmulator(t, emu, line)
		}
	}

	for ph.State() != Paused {
		step()
	}

	captured := ph.PausePosition()
	require.InDelta(0.0, captured.Position.X, 1e-9)
	require.InDelta(5.3, captured.Position.Z, 1e-9)
	require.InDelta(1.25, captured.Extrusion, 1e-9)

	atPause := emu.Position()
	require.InDelta(captured.Position.X, atPause.X, 1e-3)
	require.InDelta(captured.Position.Z, atPause.Z, 1e-3)

	// parked lines never reach the device
	received := emu.Metrics().LineRecvCount.Load()
	for range 5 {
		step()
	}
	require.Equal(received, emu.Metrics().LineRecvCount.Load())

	require.NoError(ph.Resume())
	for ph.Pending() > 0 {
		step()
	}

	pos := emu.Position()
	require.InDelta(captured.Position.X, pos.X, 1e-3)
	require.InDelta(captured.Position.Y, pos.Y, 1e-3)
	require.InDelta(captured.Position.Z, pos.Z, 1e-3)
	require.InDelta(captured.Extrusion, pos.E, 1e-3)
	require.Equal(255, emu.FanSpeed())

	// the job continues where it stopped
	step()
	require.Equal(Running, ph.State())
	require.InDelta(0.6, emu.Position().Z, 1e-9)
}
