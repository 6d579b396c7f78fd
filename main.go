package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/ztkent/color-meter/internal/colormeter"
	"github.com/ztkent/color-meter/internal/config"
	"github.com/ztkent/color-meter/internal/hardware"
	"github.com/ztkent/color-meter/internal/tools"
	"github.com/ztkent/color-meter/tcs34725"
)

/*
	This is the primary entry point for the Color Meter application.
	It should be running at startup, on a Raspberry Pi, with the TCS34725
	sensor on I2C and its INT line wired to a GPIO.
*/

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, logFile, err := tools.SetupLogging(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		logger.WithError(err).Warn("Logging to stdout only")
	} else {
		defer logFile.Close()
	}
	tcs34725.SetLogger(logger)

	pid := os.Getpid()
	log.Infof("ColorMeter [%d]", pid)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Server.Timezone)
	if err != nil {
		log.WithError(err).Warnf("Unknown timezone %q, using UTC", cfg.Server.Timezone)
		loc = time.UTC
	}

	meter := &colormeter.CMeter{
		ResultsChan: make(chan colormeter.ColorResults),
		DBPath:      cfg.Database.Path,
		Interval:    cfg.Recording.Interval.Duration(),
		MaxDuration: cfg.Recording.MaxDuration.Duration(),
		Location:    loc,
		Pid:         pid,
	}

	// connect to the color sensor, the dashboard still serves history without it
	driver, err := connectSensor(ctx, cfg.Sensor)
	if err != nil {
		log.WithError(err).Error("Failed to connect to the TCS34725 sensor")
	} else {
		meter.Sensor = driver
		defer driver.Close()
	}

	if cfg.Sensor.LEDPin != "" {
		led, err := hardware.OpenLED(cfg.Sensor.LEDPin)
		if err != nil {
			log.WithError(err).Warn("Failed to open the LED pin")
		} else {
			meter.LED = led
			defer led.Off()
		}
	}

	// connect to the sqlite database
	meter.ResultsDB, err = tools.ConnectSqlite(cfg.Database.Path)
	if err != nil {
		// Unlike connecting to the sensor, this should always work.
		log.Fatalf("Failed to connect to the sqlite database: %v", err)
	}
	defer meter.ResultsDB.Close()

	// Initialize router
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(handleServerPanic)

	// Listen for any result messages from our jobs, record them in sqlite
	go meter.MonitorAndRecordResults(ctx)
	if err := defineRoutes(r, meter, cfg.Server); err != nil {
		log.Fatalf("Failed to define routes: %v", err)
	}

	if err := serve(ctx, r, cfg.Server); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// connectSensor starts the driver and, when an interrupt pin is configured,
// bridges its edges to the driver's recalibration worker.
func connectSensor(ctx context.Context, cfg config.SensorConfig) (*tcs34725.Driver, error) {
	device, err := hardware.OpenBus(cfg.I2CDevice, cfg.Address)
	if err != nil {
		return nil, err
	}
	driver := tcs34725.New(device, cfg.Options())
	if err := driver.Start(ctx); err != nil {
		driver.Close()
		return nil, err
	}

	if cfg.InterruptPin == "" {
		log.Warn("No interrupt pin configured, auto-exposure only runs on /api/v1/recalibrate")
		return driver, nil
	}
	pin, err := hardware.OpenInterruptPin(cfg.InterruptPin)
	if err != nil {
		log.WithError(err).Warn("Failed to open the interrupt pin, auto-exposure only runs on /api/v1/recalibrate")
		return driver, nil
	}
	bridge := tcs34725.NewBridge(pin)
	if err := bridge.Register(driver); err != nil {
		driver.Close()
		return nil, err
	}
	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Interrupt bridge stopped")
		}
	}()
	return driver, nil
}

func serve(ctx context.Context, handler http.Handler, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	var err error
	if cfg.SSL {
		// Generate a self-signed certificate if one doesn't exist
		hostname, _ := os.Hostname()
		if err := tools.EnsureCertificate(cfg.CertFile, cfg.KeyFile, hostname, "localhost", "127.0.0.1"); err != nil {
			return err
		}
		log.Infof("Starting HTTPS server on port %d", cfg.Port)
		err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		log.Infof("Starting HTTP server on port %d", cfg.Port)
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func defineRoutes(r chi.Router, meter *colormeter.CMeter, cfg config.ServerConfig) error {
	inNetwork, err := tools.CheckInNetwork(cfg.AllowedCIDRs)
	if err != nil {
		return err
	}

	// Color Meter Dashboard Controls
	r.Get("/", meter.ServeDashboard())
	r.Route("/colormeter", func(r chi.Router) {
		r.Use(inNetwork)
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
		r.Post("/graph", meter.ServeResultsGraph())
		r.Get("/controls", meter.ServeColorControls())
		r.Get("/status", meter.ServeSensorStatus())
		r.Post("/results", meter.ServeResultsTab())
		r.Post("/recalibrate", meter.Recalibrate())
		r.Post("/led", meter.SetLED())
		r.Get("/clear", meter.Clear())
	})

	// Color Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/raw", meter.Raw())
		r.Get("/reading", meter.Reading())
		r.Get("/status", meter.Status())
		r.Post("/recalibrate", meter.Recalibrate())
		r.Get("/start", meter.Start())
		r.Get("/stop", meter.Stop())
		r.Get("/current-conditions", meter.CurrentConditions())
		r.Get("/export", meter.ServeResultsDB())
		r.Post("/led", meter.SetLED())
	})

	// Files shared with in-network clients, writable when WebDAV is enabled
	store := &tools.FileStore{Root: cfg.WebDAVRoot, Enabled: cfg.WebDAVEnabled}
	r.With(inNetwork).Handle("/files/*", http.StripPrefix("/files", store))

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		response := struct {
			ServiceName string `json:"service_name"`
		}{
			ServiceName: "Color Meter",
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})
	return nil
}

func handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithField("panic", err).Error("Recovered from panic")
				colormeter.ServeResponse(w, r, fmt.Sprintf("%v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
