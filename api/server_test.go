package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/printer"
	"github.com/arloliu/go-gcodelink/store"
	"github.com/arloliu/go-gcodelink/stream"
)

func TestMain(m *testing.M) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.SetLevel(logger.ParseLevel(logLevel))

	os.Exit(m.Run())
}

type mockPrinter struct {
	mock.Mock
	metrics printer.ConnectionMetrics
}

var _ Printer = (*mockPrinter)(nil)

func (m *mockPrinter) State() printer.CommState {
	return m.Called().Get(0).(printer.CommState)
}

func (m *mockPrinter) PauseState() stream.PauseState {
	return stream.Running
}

func (m *mockPrinter) Position() stream.PrinterMove {
	return stream.PrinterMove{Position: stream.Vector3{X: 1, Y: 2, Z: 3}, Extrusion: 4}
}

func (m *mockPrinter) PausePosition() stream.PrinterMove {
	return stream.PrinterMove{}
}

func (m *mockPrinter) Metrics() *printer.ConnectionMetrics {
	return &m.metrics
}

func (m *mockPrinter) StartPrint(src stream.LineSource) error {
	return m.Called(src).Error(0)
}

func (m *mockPrinter) Pause() error       { return m.Called().Error(0) }
func (m *mockPrinter) Resume() error      { return m.Called().Error(0) }
func (m *mockPrinter) CancelPrint() error { return m.Called().Error(0) }

func (m *mockPrinter) HomeAxis(axes ...stream.Axis) error {
	return m.Called(axes).Error(0)
}

func (m *mockPrinter) QueueLine(line string) {
	m.Called(line)
}

type fakeHistory struct {
	records []store.PauseRecord
	err     error
}

func (f *fakeHistory) History(_ context.Context, printerID string, limit int) ([]store.PauseRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.PauseRecord, 0, limit)
	for _, r := range f.records {
		if r.PrinterID == printerID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func TestServer_Status(t *testing.T) {
	p := &mockPrinter{}
	p.On("State").Return(printer.Printing)
	p.metrics.LinesSent.Store(12)

	s := NewServer(p, "mk3", nil, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "mk3", status["printer"])
	assert.Equal(t, "printing", status["state"])
	assert.Equal(t, "running", status["pause_state"])
	assert.InDelta(t, 12.0, status["lines_sent"], 1e-9)
}

func TestServer_PauseResumeCancel(t *testing.T) {
	p := &mockPrinter{}
	p.On("State").Return(printer.Paused)
	p.On("Pause").Return(nil).Once()
	p.On("Resume").Return(printer.ErrNotPaused).Once()
	p.On("CancelPrint").Return(printer.ErrNotPrinting).Once()

	s := NewServer(p, "mk3", nil, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/pause", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/v1/resume", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/v1/cancel", "").Code)
	p.AssertExpectations(t)
}

func TestServer_StartPrint(t *testing.T) {
	p := &mockPrinter{}
	p.On("State").Return(printer.Printing)
	p.On("StartPrint", mock.MatchedBy(func(src stream.LineSource) bool {
		lines, ok := src.(*stream.Lines)
		return ok && lines.Remaining() == 2
	})).Return(nil).Once()

	s := NewServer(p, "mk3", nil, nil)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/print", "G28\nG1 X10").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/print", "  \n").Code)
	p.AssertExpectations(t)
}

func TestServer_StartPrintDisconnected(t *testing.T) {
	p := &mockPrinter{}
	p.On("StartPrint", mock.Anything).Return(printer.ErrNotConnected)

	s := NewServer(p, "mk3", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodPost, "/api/v1/print", "G28").Code)
}

func TestServer_Home(t *testing.T) {
	p := &mockPrinter{}
	p.On("HomeAxis", []stream.Axis{stream.AxisX, stream.AxisZ}).Return(nil).Once()

	s := NewServer(p, "mk3", nil, nil)

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/v1/home", `{"axes":["x","Z"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/home", `{"axes":["E"]}`).Code)
	p.AssertExpectations(t)
}

func TestServer_QueueGCode(t *testing.T) {
	p := &mockPrinter{}
	p.On("State").Return(printer.Connected)
	p.On("QueueLine", "M105").Once()
	p.On("QueueLine", "M114").Once()

	s := NewServer(p, "mk3", nil, nil)

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/api/v1/gcode", `{"lines":["M105","M114"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/gcode", `{"lines":[]}`).Code)
	p.AssertExpectations(t)
}

func TestServer_Pauses(t *testing.T) {
	p := &mockPrinter{}

	s := NewServer(p, "mk3", nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/pauses", "").Code)

	history := &fakeHistory{records: []store.PauseRecord{
		{PrinterID: "mk3", State: "paused", Reason: "user_requested"},
		{PrinterID: "other", State: "paused"},
		{PrinterID: "mk3", State: "running"},
	}}
	s = NewServer(p, "mk3", history, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/pauses?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []store.PauseRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "user_requested", records[0].Reason)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/pauses?limit=x", "").Code)

	history.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/api/v1/pauses", "").Code)
}
