package colormeter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/color-meter/tcs34725"
)

//go:embed html/*
var templateFiles embed.FS

// Sensor is the part of the driver the HTTP surface uses.
type Sensor interface {
	Start(ctx context.Context) error
	ReadRaw(ctx context.Context) (tcs34725.RawSample, error)
	ReadPhotometric(ctx context.Context) (tcs34725.Reading, error)
	Recalibrate(ctx context.Context) error
	Status() tcs34725.Status
}

// LED is the breakout's on-board light.
type LED interface {
	Set(on bool) error
	Toggle() (bool, error)
	On() bool
}

type CMeter struct {
	Sensor      Sensor // nil when the sensor could not be opened
	LED         LED    // nil when no LED pin is configured
	ResultsDB   *sql.DB
	ResultsChan chan ColorResults
	DBPath      string
	Interval    time.Duration
	MaxDuration time.Duration
	Location    *time.Location
	Pid         int

	mu     sync.Mutex
	cancel context.CancelFunc
	jobID  string
}

type ColorResults struct {
	JobID   string
	Reading tcs34725.Reading
}

type Conditions struct {
	JobID             string    `json:"jobID"`
	Lux               float64   `json:"lux"`
	CCT               float64   `json:"cct"`
	Red               int       `json:"red"`
	Green             int       `json:"green"`
	Blue              int       `json:"blue"`
	Clear             int       `json:"clear"`
	Gain              int       `json:"gain"`
	IntegrationTimeMs float64   `json:"integrationTimeMs"`
	RecordedAt        time.Time `json:"recordedAt"`

	DateRange             string  `json:"dateRange,omitempty"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange,omitempty"`
	FullSunlightInRange   float64 `json:"fullSunlightInRange,omitempty"`
	LightConditionInRange string  `json:"lightConditionInRange,omitempty"`
	AverageLuxInRange     float64 `json:"averageLuxInRange,omitempty"`
	AverageCCTInRange     float64 `json:"averageCCTInRange,omitempty"`
	LightSourceInRange    string  `json:"lightSourceInRange,omitempty"`
}

const (
	MAX_JOB_DURATION = 8 * time.Hour
	RECORD_INTERVAL  = 30 * time.Second
	DB_PATH          = "colormeter.db"
)

var errNoSensor = errors.New("the sensor is not connected")

func (m *CMeter) interval() time.Duration {
	if m.Interval <= 0 {
		return RECORD_INTERVAL
	}
	return m.Interval
}

func (m *CMeter) maxDuration() time.Duration {
	if m.MaxDuration <= 0 {
		return MAX_JOB_DURATION
	}
	return m.MaxDuration
}

// Recording reports whether a recording job is running, and its id.
func (m *CMeter) Recording() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID, m.cancel != nil
}

// Start the sensor, and record readings in a loop
func (m *CMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeError(w, r, errNoSensor)
			return
		}
		if err := m.Sensor.Start(r.Context()); err != nil {
			ServeError(w, r, err)
			return
		}

		m.mu.Lock()
		if m.cancel != nil {
			m.mu.Unlock()
			ServeResponse(w, r, "The color meter is already recording", http.StatusConflict)
			return
		}
		// Create a new context with a timeout to manage the job lifecycle
		ctx, cancel := context.WithTimeout(context.Background(), m.maxDuration())
		jobID := uuid.New().String()
		m.cancel, m.jobID = cancel, jobID
		m.mu.Unlock()

		log.WithField("job", jobID).Info("Starting color recording")
		go m.record(ctx, jobID)
		ServeResponse(w, r, "Color Recording Started", http.StatusOK)
	}
}

func (m *CMeter) record(ctx context.Context, jobID string) {
	defer m.finishJob(jobID)

	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		reading, err := m.Sensor.ReadPhotometric(ctx)
		switch {
		case err != nil:
			log.WithError(err).WithField("job", jobID).Warn("The sensor failed to read")
		case reading.Saturated:
			// The interrupt driven auto-exposure will bring it back in range.
			log.WithField("clear", reading.Sample.Clear).Warn("Reading saturated, skipping record")
		default:
			select {
			case m.ResultsChan <- ColorResults{JobID: jobID, Reading: reading}:
			case <-ctx.Done():
			}
		}

		// Check if we've cancelled this job.
		select {
		case <-ctx.Done():
			log.WithField("job", jobID).Info("Job finished, stopping recording")
			return
		case <-ticker.C:
		}
	}
}

func (m *CMeter) finishJob(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobID == jobID && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Stop the current recording job
func (m *CMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		cancel := m.cancel
		m.cancel = nil
		m.mu.Unlock()

		if cancel == nil {
			ServeResponse(w, r, "The color meter is not recording", http.StatusConflict)
			return
		}
		cancel()
		ServeResponse(w, r, "Color Recording Stopped", http.StatusOK)
	}
}

// Serve one raw RGBC sample
func (m *CMeter) Raw() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeError(w, r, errNoSensor)
			return
		}
		sample, err := m.Sensor.ReadRaw(r.Context())
		if err != nil {
			ServeError(w, r, err)
			return
		}
		red, green, blue := sample.RGB()
		ServeJSON(w, http.StatusOK, struct {
			tcs34725.RawSample
			RGB [3]uint8 `json:"rgb"`
		}{sample, [3]uint8{red, green, blue}})
	}
}

// Serve lux and color temperature for one sample
func (m *CMeter) Reading() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeError(w, r, errNoSensor)
			return
		}
		reading, err := m.Sensor.ReadPhotometric(r.Context())
		if err != nil {
			ServeError(w, r, err)
			return
		}
		ServeJSON(w, http.StatusOK, struct {
			tcs34725.Reading
			Plausible bool `json:"plausible"`
		}{reading, reading.Plausible()})
	}
}

type StatusResponse struct {
	Connected bool             `json:"connected"`
	Sensor    *tcs34725.Status `json:"sensor,omitempty"`
	Recording bool             `json:"recording"`
	JobID     string           `json:"jobID,omitempty"`
	LED       *bool            `json:"led,omitempty"`
	Pid       int              `json:"pid"`
}

func (m *CMeter) status() StatusResponse {
	st := StatusResponse{Pid: m.Pid}
	if m.Sensor != nil {
		s := m.Sensor.Status()
		st.Connected = true
		st.Sensor = &s
	}
	st.JobID, st.Recording = m.Recording()
	if m.LED != nil {
		on := m.LED.On()
		st.LED = &on
	}
	return st
}

// Serve the controller state, never touching the bus
func (m *CMeter) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ServeJSON(w, http.StatusOK, m.status())
	}
}

// Run one auto-exposure step by hand, re-arming the interrupt if needed
func (m *CMeter) Recalibrate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Sensor == nil {
			ServeError(w, r, errNoSensor)
			return
		}
		if err := m.Sensor.Recalibrate(r.Context()); err != nil {
			ServeError(w, r, err)
			return
		}
		st := m.Sensor.Status()
		ServeResponse(w, r, fmt.Sprintf("Recalibrated: %s, %.1fms integration",
			tcs34725.GainToString(st.Gain), st.IntegrationTimeMs), http.StatusOK)
	}
}

// Switch the LED with state=on|off|toggle
func (m *CMeter) SetLED() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.LED == nil {
			ServeResponse(w, r, "No LED is configured", http.StatusNotImplemented)
			return
		}
		var err error
		switch state := strings.ToLower(r.FormValue("state")); state {
		case "on", "off":
			err = m.LED.Set(state == "on")
		case "", "toggle":
			_, err = m.LED.Toggle()
		default:
			ServeResponse(w, r, fmt.Sprintf("Unknown LED state %q", state), http.StatusBadRequest)
			return
		}
		if err != nil {
			ServeError(w, r, err)
			return
		}
		if m.LED.On() {
			ServeResponse(w, r, "LED On", http.StatusOK)
		} else {
			ServeResponse(w, r, "LED Off", http.StatusOK)
		}
	}
}

// Serve data about the most recent entry saved to the db
func (m *CMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if errors.Is(err, sql.ErrNoRows) {
			ServeResponse(w, r, "No readings have been recorded", http.StatusNotFound)
			return
		} else if err != nil {
			ServeError(w, r, err)
			return
		}

		if strings.Contains(r.URL.Path, "/api/v1/") {
			ServeJSON(w, http.StatusOK, conditions)
			return
		}
		conditionsData, err := json.Marshal(conditions)
		if err != nil {
			ServeError(w, r, err)
			return
		}
		ServeResponse(w, r, string(conditionsData), http.StatusOK)
	}
}

// Return the most recent entry saved to the db
func (m *CMeter) getCurrentConditions() (Conditions, error) {
	conditions := Conditions{}
	row := m.ResultsDB.QueryRow(`
    SELECT job_id, lux, cct, red, green, blue, clear, gain, integration_ms, created_at
    FROM readings ORDER BY id DESC LIMIT 1`)
	err := row.Scan(&conditions.JobID, &conditions.Lux, &conditions.CCT,
		&conditions.Red, &conditions.Green, &conditions.Blue, &conditions.Clear,
		&conditions.Gain, &conditions.IntegrationTimeMs, &conditions.RecordedAt)
	if err != nil {
		return Conditions{}, err
	}
	return conditions, nil
}

// MonitorAndRecordResults reads from ResultsChan and writes the results to
// sqlite until ctx is done.
func (m *CMeter) MonitorAndRecordResults(ctx context.Context) {
	log.Info("Monitoring for new color readings...")
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-m.ResultsChan:
			if err := m.recordResult(result); err != nil {
				log.WithError(err).WithField("job", result.JobID).Error("Failed to record reading")
			}
		}
	}
}

func (m *CMeter) recordResult(result ColorResults) error {
	rd := result.Reading
	log.WithFields(log.Fields{
		"job": result.JobID,
		"lux": fmt.Sprintf("%.3f", rd.Lux),
		"cct": fmt.Sprintf("%.0f", rd.CCT),
	}).Debug("Recording reading")
	if !rd.Plausible() {
		log.WithField("cct", rd.CCT).Warn("Reading is not plausible, skipping record")
		return nil
	}
	_, err := m.ResultsDB.Exec(
		`INSERT INTO readings (job_id, lux, cct, red, green, blue, clear, gain, integration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.JobID, rd.Lux, rd.CCT,
		rd.Sample.Red, rd.Sample.Green, rd.Sample.Blue, rd.Sample.Clear,
		rd.Gain, rd.IntegrationTimeMs,
	)
	return err
}

// statusForError maps driver errors to HTTP status codes.
func statusForError(err error) int {
	var busErr *tcs34725.BusError
	switch {
	case errors.Is(err, errNoSensor):
		return http.StatusServiceUnavailable
	case errors.Is(err, tcs34725.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, tcs34725.ErrNotStarted):
		return http.StatusConflict
	case errors.As(err, &busErr),
		errors.Is(err, tcs34725.ErrUnknownDevice),
		errors.Is(err, tcs34725.ErrIntegrationTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ServeError logs err and replies with the matching status.
func ServeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	entry := log.WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	ServeResponse(w, r, err.Error(), status)
}

// ServeJSON writes v as the JSON body.
func ServeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

// Populate the response div with a message, or reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if strings.Contains(r.URL.Path, "/api/v1/") {
		ServeJSON(w, status, map[string]string{"message": message})
		return
	}

	tmpl, err := parseTemplateFile("html/response.gohtml")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		log.WithError(err).Error("Failed to render response")
	}
}

func parseTemplateFile(path string) (*template.Template, error) {
	content, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template: %w", err)
	}

	tmpl, err := template.New("results").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}
