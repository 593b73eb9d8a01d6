package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/rotor_controller/acu"
	"github.com/w1xm/rotor_controller/controller"
	"github.com/w1xm/rotor_controller/internal/config"
	"github.com/w1xm/rotor_controller/mcb"
	"github.com/w1xm/rotor_controller/rotor"
	"github.com/w1xm/rotor_controller/simulator"
	"github.com/w1xm/rotor_controller/tracker"
)

var (
	configPath  = flag.String("config", "rotor.yaml", "path to configuration file")
	httpAddr    = flag.String("http_addr", ":8502", "address for the HTTP API")
	rotctldAddr = flag.String("rotctld_addr", ":4533", "address for the rotctld protocol")
	staticDir   = flag.String("static_dir", "static", "directory containing static files")
)

func main() {
	flag.Parse()
	rand.Seed(time.Now().UnixNano())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v; shutting down", sig)
		cancel()
	}()

	srv := NewServer(ctx, cfg)

	var (
		pos rotor.PositionSource
		act rotor.Actuator
		sim *simulator.Simulator
	)
	switch cfg.Backend {
	case "simulator":
		reg := simulator.NewRegister(cfg.Azimuth.Calibration, cfg.Elevation.Calibration)
		board := simulator.NewBoard(reg, cfg.Azimuth.Calibration, cfg.Elevation.Calibration, cfg.ADC.VRef, cfg.Simulator.NoiseStdDev)
		sim = simulator.New(reg, cfg.Simulator)
		pos, act = board, board
		log.Printf("simulator backend starting at az=%.1f el=%.1f", cfg.Simulator.StartAz, cfg.Simulator.StartEl)
	case "acu":
		a := acu.Connect(ctx, cfg.ACU.Port, cfg.ACU.Baud, cfg.Azimuth.Calibration, cfg.Elevation.Calibration, cfg.ADC.VRef)
		pos, act = a, a
	case "mcb":
		m, err := mcb.Connect(ctx, cfg.MCB.Port, cfg.MCB.Baud, cfg.MCB.URL, cfg.Azimuth.Calibration, cfg.Elevation.Calibration, cfg.ADC.VRef)
		if err != nil {
			log.Fatal(err)
		}
		pos, act = m, m
	}

	ctrl := controller.New(cfg.Control, cfg.Azimuth, cfg.Elevation, pos, act, srv.statusCallback)
	srv.ctrl = ctrl
	srv.tracker = tracker.New(cfg.Observer, ctrl)
	srv.sim = sim
	srv.statusCallback(ctrl.Status())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	if sim != nil {
		g.Go(func() error { return sim.Run(ctx) })
	}
	if err := srv.ListenRotctld(ctx, *rotctldAddr); err != nil {
		log.Fatal(err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler)
	r.HandleFunc("/api/config", srv.ConfigHandler)
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
	httpSrv := &http.Server{
		Handler: r,
		Addr:    *httpAddr,
		// No WriteTimeout: /api/ws connections are long-lived.
		ReadHeaderTimeout: 15 * time.Second,
	}
	g.Go(func() error {
		log.Printf("listening on %v", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}
