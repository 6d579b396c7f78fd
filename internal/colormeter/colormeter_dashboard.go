package colormeter

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/color-meter/internal/tools"
)

// Serve the sqlite db for download
func (m *CMeter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbPath := m.DBPath
		if dbPath == "" {
			dbPath = DB_PATH
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", "colormeter.db"))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, dbPath)
	}
}

// Serve the homepage
func (m *CMeter) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileContent, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read embedded html file: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(fileContent)
	}
}

// Serve the controls for the sensor, start/stop/export/recalibrate/led
func (m *CMeter) ServeColorControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.renderTemplate(w, "html/controls.gohtml", struct{ HasLED bool }{m.LED != nil})
	}
}

// Status of the sensor
func (m *CMeter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := m.status()
		m.renderTemplate(w, "html/status.gohtml", struct {
			StatusResponse
			HasLED bool
			LEDOn  bool
		}{st, st.LED != nil, st.LED != nil && *st.LED})
	}
}

func (m *CMeter) renderTemplate(w http.ResponseWriter, path string, data interface{}) {
	tmpl, err := parseTemplateFile(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := tmpl.Execute(w, data); err != nil {
		log.WithError(err).WithField("template", path).Error("Failed to render template")
	}
}

// Reference color temperatures drawn on the graph
var cctLevels = []struct {
	Kelvin int
	Title  string
	Color  string
}{
	{2700, "Incandescent", "Orange"},
	{4000, "Neutral White", "WhiteSmoke"},
	{5500, "Daylight", "Yellow"},
	{6500, "Overcast", "SkyBlue"},
}

func roundUp(v float64, step float64) float64 {
	if v <= 0 {
		return step
	}
	return math.Ceil(v/step) * step
}

// Serve the results graph, lux on the left axis and CCT on the right
func (m *CMeter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the date range for the graph from the request
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)

		rows, err := m.ResultsDB.Query(`
    SELECT lux, cct, created_at FROM readings
    WHERE created_at BETWEEN ? AND ? ORDER BY created_at`, startDate, endDate)
		if err != nil {
			log.WithError(err).Error("Failed to query readings")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		// Prepare the data for the chart
		var (
			luxValues, cctValues []opts.LineData
			timeValues           []string
			maxLux, maxCCT       float64
		)
		for rows.Next() {
			var lux, cct float64
			var createdAt time.Time
			if err := rows.Scan(&lux, &cct, &createdAt); err != nil {
				log.WithError(err).Error("Failed to scan reading")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			maxLux = math.Max(maxLux, lux)
			maxCCT = math.Max(maxCCT, cct)
			luxValues = append(luxValues, opts.LineData{Value: lux})
			cctValues = append(cctValues, opts.LineData{Value: math.Round(cct)})
			timeValues = append(timeValues, createdAt.In(m.location()).Format("2006-01-02 15:04:05"))
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{
				Theme: types.ThemeChalk,
			}),
			charts.WithXAxisOpts(opts.XAxis{
				Name: "Time",
			}),
			charts.WithYAxisOpts(opts.YAxis{
				Name: "Lux",
				Min:  0,
				Max:  roundUp(maxLux, 500),
			}),
			charts.WithTooltipOpts(opts.Tooltip{
				Show:      true,
				Trigger:   "axis",
				TriggerOn: "mousemove",
			}),
			charts.WithLegendOpts(opts.Legend{
				Show: true,
			}),
			charts.WithToolboxOpts(opts.Toolbox{
				Show: true,
				Feature: &opts.ToolBoxFeature{
					SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
						Show:  true,
						Title: "Save as Image",
						Name:  "color-meter",
					},
				},
			}),
		)
		line.ExtendYAxis(opts.YAxis{
			Name: "CCT (K)",
			Min:  0,
			Max:  roundUp(math.Max(maxCCT, 7000), 1000),
		})

		line.SetXAxis(timeValues).
			AddSeries("Lux", luxValues).
			AddSeries("CCT", cctValues, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

		// Reference lines share the CCT axis
		for _, level := range cctLevels {
			data := make([]opts.LineData, len(timeValues))
			for i := range data {
				data[i] = opts.LineData{Value: level.Kelvin}
			}
			line.AddSeries(level.Title, data, charts.WithLineChartOpts(opts.LineChart{
				YAxisIndex: 1,
				Color:      level.Color,
			}))
		}

		// Create a new page and add the line chart to it
		page := components.NewPage()
		page.AddCharts(line)

		w.Header().Set("Content-Type", "text/html")
		if err := page.Render(w); err != nil {
			log.WithError(err).Error("Failed to render graph")
			return
		}
		// Trigger an update for the results tab
		w.Write([]byte(`<div id='resultUpdateTrigger' hx-post='/colormeter/results' hx-target='#resultsContent' hx-trigger='load'></div>`))
		w.Write([]byte(`<script>document.title = "Color Meter";</script>`))
	}
}

func (m *CMeter) location() *time.Location {
	if m.Location == nil {
		return time.UTC
	}
	return m.Location
}

// Update the info in the results tab
func (m *CMeter) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)
		conditions, err = m.getHistoricalConditions(conditions, startDate, endDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type ConditionsForDisplay struct {
			JobID                 string
			Lux                   string
			CCT                   string
			RGB                   string
			DateRange             string
			RecordedHoursInRange  string
			FullSunlightInRange   string
			LightConditionInRange string
			AverageLuxInRange     string
			AverageCCTInRange     string
			LightSourceInRange    string
			StartDate             string
			EndDate               string
		}
		m.renderTemplate(w, "html/results.gohtml", ConditionsForDisplay{
			JobID:                 conditions.JobID,
			Lux:                   fmt.Sprintf("%.2f", conditions.Lux),
			CCT:                   fmt.Sprintf("%.0fK", conditions.CCT),
			RGB:                   fmt.Sprintf("%d / %d / %d / %d", conditions.Red, conditions.Green, conditions.Blue, conditions.Clear),
			DateRange:             conditions.DateRange,
			RecordedHoursInRange:  fmt.Sprintf("%.2f", conditions.RecordedHoursInRange),
			FullSunlightInRange:   fmt.Sprintf("%.2f", conditions.FullSunlightInRange),
			LightConditionInRange: conditions.LightConditionInRange,
			AverageLuxInRange:     fmt.Sprintf("%.2f", conditions.AverageLuxInRange),
			AverageCCTInRange:     fmt.Sprintf("%.0fK", conditions.AverageCCTInRange),
			LightSourceInRange:    conditions.LightSourceInRange,
			StartDate:             startDate,
			EndDate:               endDate,
		})
	}
}

// Summarize the readings recorded in the date range
func (m *CMeter) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)

	row := m.ResultsDB.QueryRow(`
    SELECT 
        COALESCE(AVG(lux), 0), 
        COALESCE(AVG(cct), 0), 
        COALESCE(MIN(created_at), '0001-01-01 00:00:00'), 
        COALESCE(MAX(created_at), '0001-01-01 00:00:00') 
    FROM readings 
    WHERE created_at BETWEEN ? AND ?`, startDate, endDate)
	var oldest, mostRecent sql.NullString
	err := row.Scan(&conditions.AverageLuxInRange, &conditions.AverageCCTInRange, &oldest, &mostRecent)
	if err != nil {
		return conditions, err
	}
	if conditions.AverageLuxInRange == 0 {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions, nil
	}
	conditions.LightSourceInRange = classifyCCT(conditions.AverageCCTInRange)

	// Count the minutes where the average lux was above 10k
	var fullSunlightMinutes sql.NullFloat64
	err = m.ResultsDB.QueryRow(`
    SELECT COUNT(*) 
    FROM (
        SELECT AVG(lux) as avg_lux 
        FROM readings 
        WHERE created_at BETWEEN ? AND ? 
        GROUP BY strftime('%Y-%m-%d %H:%M', created_at)
    ) 
    WHERE avg_lux > 10000`, startDate, endDate).Scan(&fullSunlightMinutes)
	if err != nil {
		return conditions, err
	}
	if fullSunlightMinutes.Valid {
		conditions.FullSunlightInRange = fullSunlightMinutes.Float64 / 60
	}

	if oldest.Valid && mostRecent.Valid {
		first, last, err := tools.StartAndEndDateToTime(oldest.String, mostRecent.String)
		if err != nil {
			return conditions, err
		}
		conditions.RecordedHoursInRange = last.Sub(first).Hours()
		conditions.LightConditionInRange = classifySunlight(conditions.FullSunlightInRange, conditions.RecordedHoursInRange)
	}
	return conditions, nil
}

func classifySunlight(fullSunHours, recordedHours float64) string {
	if recordedHours <= 0 {
		return "Not Enough Data"
	}
	switch ratio := fullSunHours / recordedHours; {
	case ratio > 0.5:
		return "Full Sun"
	case ratio > 0.25:
		return "Partial Sun"
	case ratio > 0.1:
		return "Partial Shade"
	default:
		return "Shade"
	}
}

// classifyCCT names the kind of light a color temperature usually comes from.
func classifyCCT(cct float64) string {
	switch {
	case cct < 2000:
		return "Candlelight"
	case cct < 3200:
		return "Warm White"
	case cct < 4500:
		return "Neutral White"
	case cct < 6000:
		return "Daylight"
	default:
		return "Overcast / Shade"
	}
}

// Used to clear a div with htmx
func (m *CMeter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
	}
}
