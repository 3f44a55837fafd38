// Package api exposes a printer connection over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arloliu/go-gcodelink/logger"
	"github.com/arloliu/go-gcodelink/printer"
	"github.com/arloliu/go-gcodelink/store"
	"github.com/arloliu/go-gcodelink/stream"
)

// MaxJobSize bounds the body of POST /print.
const MaxJobSize = 64 << 20

// Printer is the part of printer.Connection the HTTP surface drives.
type Printer interface {
	State() printer.CommState
	PauseState() stream.PauseState
	Position() stream.PrinterMove
	PausePosition() stream.PrinterMove
	Metrics() *printer.ConnectionMetrics
	StartPrint(src stream.LineSource) error
	Pause() error
	Resume() error
	CancelPrint() error
	HomeAxis(axes ...stream.Axis) error
	QueueLine(line string)
}

var _ Printer = (*printer.Connection)(nil)

// PauseHistory lists recorded pause transitions.
type PauseHistory interface {
	History(ctx context.Context, printerID string, limit int) ([]store.PauseRecord, error)
}

// Status is the body of GET /status.
type Status struct {
	Printer       string             `json:"printer"`
	State         printer.CommState  `json:"state"`
	PauseState    stream.PauseState  `json:"pause_state"`
	Position      stream.PrinterMove `json:"position"`
	PausePosition stream.PrinterMove `json:"pause_position"`
	LinesSent     uint64             `json:"lines_sent"`
	OKCount       uint64             `json:"ok_count"`
	ResendCount   uint64             `json:"resend_count"`
}

// GCodeRequest is the body of POST /gcode.
type GCodeRequest struct {
	Lines []string `json:"lines"`
}

// HomeRequest is the body of POST /home.
type HomeRequest struct {
	Axes []string `json:"axes"`
}

// Server routes HTTP requests to one printer.
type Server struct {
	echo      *echo.Echo
	printer   Printer
	printerID string
	history   PauseHistory
	logger    logger.Logger
}

// NewServer builds the routes for p. history may be nil.
func NewServer(p Printer, printerID string, history PauseHistory, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		printer:   p,
		printerID: printerID,
		history:   history,
		logger:    l,
	}

	g := e.Group("/api/v1")
	g.GET("/status", s.getStatus)
	g.GET("/pauses", s.getPauses)
	g.POST("/print", s.startPrint)
	g.POST("/pause", s.pause)
	g.POST("/resume", s.resume)
	g.POST("/cancel", s.cancel)
	g.POST("/home", s.home)
	g.POST("/gcode", s.queueGCode)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http api listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) getStatus(c echo.Context) error {
	m := s.printer.Metrics()

	return c.JSON(http.StatusOK, Status{
		Printer:       s.printerID,
		State:         s.printer.State(),
		PauseState:    s.printer.PauseState(),
		Position:      s.printer.Position(),
		PausePosition: s.printer.PausePosition(),
		LinesSent:     m.LinesSent.Load(),
		OKCount:       m.OKCount.Load(),
		ResendCount:   m.ResendCount.Load(),
	})
}

func (s *Server) getPauses(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "pause journal not configured")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	records, err := s.history.History(ctx, s.printerID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to read pause journal: %v", err))
	}

	return c.JSON(http.StatusOK, records)
}

// startPrint streams the request body as a G-code job.
func (s *Server) startPrint(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxJobSize))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to read job: %v", err))
	}
	if strings.TrimSpace(string(data)) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "empty job")
	}

	if err := s.printer.StartPrint(stream.ParseLines(string(data))); err != nil {
		return toHTTPError(err)
	}

	return s.getStatus(c)
}

func (s *Server) pause(c echo.Context) error {
	if err := s.printer.Pause(); err != nil {
		return toHTTPError(err)
	}

	return s.getStatus(c)
}

func (s *Server) resume(c echo.Context) error {
	if err := s.printer.Resume(); err != nil {
		return toHTTPError(err)
	}

	return s.getStatus(c)
}

func (s *Server) cancel(c echo.Context) error {
	if err := s.printer.CancelPrint(); err != nil {
		return toHTTPError(err)
	}

	return s.getStatus(c)
}

func (s *Server) home(c echo.Context) error {
	var req HomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	axes := make([]stream.Axis, 0, len(req.Axes))
	for _, name := range req.Axes {
		switch axis := stream.Axis(strings.ToUpper(name)); axis {
		case stream.AxisX, stream.AxisY, stream.AxisZ:
			axes = append(axes, axis)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown axis %q", name))
		}
	}

	if err := s.printer.HomeAxis(axes...); err != nil {
		return toHTTPError(err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (s *Server) queueGCode(c echo.Context) error {
	var req GCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if len(req.Lines) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no lines")
	}
	if !s.printer.State().IsConnected() {
		return toHTTPError(printer.ErrNotConnected)
	}

	for _, line := range req.Lines {
		s.printer.QueueLine(line)
	}

	return c.NoContent(http.StatusAccepted)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, printer.ErrNotConnected):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, printer.ErrNotPrinting),
		errors.Is(err, printer.ErrNotPaused),
		errors.Is(err, printer.ErrBusy),
		errors.Is(err, stream.ErrPauseInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
