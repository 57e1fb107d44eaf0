package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/satbench/attitude.station/api"
	"github.com/satbench/attitude.station/internal/adcs"
	"github.com/satbench/attitude.station/internal/config"
	"github.com/satbench/attitude.station/internal/db"
	"github.com/satbench/attitude.station/internal/hardware"
)

var (
	devMode    = flag.Bool("dev", false, "Run against the simulated rig instead of real hardware")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Optional tuning config (JSON)")
	dbPath     = flag.String("db", "station_sessions.db", "Recording sessions database path")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := &config.TuningConfig{}
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	var (
		imu   adcs.IMUReader
		lux   adcs.LuxReader
		motor adcs.Actuator
	)
	if *devMode {
		sim := hardware.NewSimRig()
		sim.SensorAngles = tuning.GetLuxAngles()
		imu, lux, motor = sim, sim, sim
		log.Print("dev mode: using simulated rig")
	} else {
		bus := hardware.NewDevfsBus(tuning.GetI2CPath())
		defer bus.Close()

		hwIMU := hardware.NewIMU(bus)
		if err := hwIMU.Init(); err != nil {
			// The sensor loop retries, so a cold IMU is not fatal.
			log.Printf("IMU init failed, will retry in background: %v", err)
		}
		hwLux := hardware.NewLuxArray(bus, tuning.GetLuxChannels())
		if err := hwLux.Init(); err != nil {
			log.Printf("Lux array init failed: %v", err)
		}
		hwMotor, err := hardware.OpenMotor(tuning.GetMotorPath())
		if err != nil {
			log.Fatalf("Failed to open motor board: %v", err)
		}
		defer hwMotor.Close()
		imu, lux, motor = hwIMU, hwLux, hwMotor
	}

	store, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open sessions database: %v", err)
	}
	defer store.Close()

	supervisor := adcs.NewSupervisor(adcs.SupervisorConfig{
		Tuning: tuning,
		IMU:    imu,
		Lux:    lux,
		Motor:  motor,
		Logger: log.Default(),
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the acquisition and control loops
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := supervisor.Run(ctx); err != nil {
			log.Printf("supervisor terminated: %v", err)
		}
		log.Print("supervisor routine terminated")
	}()

	apiServer := api.NewServer(supervisor, store, log.Default())

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(apiServer.ServeMux()),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Close any live recording, then make sure the wheel ends up stopped.
	apiServer.StopRecording()
	supervisor.Shutdown()
	log.Printf("Graceful shutdown complete")
}
