package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"github.com/w1xm/rotor_controller/controller"
	"github.com/w1xm/rotor_controller/internal/config"
	"github.com/w1xm/rotor_controller/simulator"
	"github.com/w1xm/rotor_controller/tracker"
)

type Server struct {
	ctx context.Context
	cfg *config.Config

	// mu serializes commands from all clients onto the controller.
	mu      sync.Mutex
	ctrl    *controller.Controller
	tracker *tracker.Tracker
	// sim is non-nil only when running against the simulated plant.
	sim *simulator.Simulator

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     controller.Status
}

func NewServer(ctx context.Context, cfg *config.Config) *Server {
	s := &Server{ctx: ctx, cfg: cfg}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusCallback is handed to the controller; it records the latest
// snapshot and wakes every websocket push loop.
func (s *Server) statusCallback(status controller.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	data, err := json.Marshal(status)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// ConfigHandler serves the active configuration in the same form the
// config file uses. It is read only; changing settings means editing the
// file and restarting.
func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

// Command is one message from a websocket client. Az, El, StartAz,
// StartEl and SpeedMultiplier are pointers so that zero is distinguishable
// from absent.
type Command struct {
	Command         string   `json:"command"`
	Az              *float64 `json:"az"`
	El              *float64 `json:"el"`
	Mode            string   `json:"mode"`
	Direction       string   `json:"direction"`
	StartAz         *float64 `json:"start_az"`
	StartEl         *float64 `json:"start_el"`
	SpeedMultiplier *float64 `json:"speed_multiplier"`
	TLE1            string   `json:"tle1"`
	TLE2            string   `json:"tle2"`
}

func (s *Server) dispatch(msg Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Command {
	case "set_target":
		s.tracker.Cancel()
		s.ctrl.SetTarget(msg.Az, msg.El)
	case "stop":
		s.tracker.Cancel()
		s.ctrl.Stop()
	case "park":
		s.tracker.Cancel()
		s.ctrl.Park()
	case "move":
		s.tracker.Cancel()
		switch msg.Direction {
		case "az_cw":
			s.ctrl.ManualAzCW()
		case "az_ccw":
			s.ctrl.ManualAzCCW()
		case "el_up":
			s.ctrl.ManualElUp()
		case "el_down":
			s.ctrl.ManualElDown()
		default:
			log.Printf("move: unknown direction %q", msg.Direction)
		}
	case "set_mode":
		m, err := controller.ParseMode(msg.Mode)
		if err != nil {
			log.Printf("set_mode: %v", err)
			return
		}
		s.ctrl.SetMode(m)
	case "track":
		if err := s.tracker.Start(s.ctx, msg.TLE1, msg.TLE2); err != nil {
			log.Printf("track: %v", err)
		}
	case "track_stop":
		s.tracker.Cancel()
	case "reset":
		if s.sim == nil {
			log.Print("reset: no simulator running")
			return
		}
		az, el := s.cfg.Simulator.StartAz, s.cfg.Simulator.StartEl
		if msg.StartAz != nil {
			az = *msg.StartAz
		}
		if msg.StartEl != nil {
			el = *msg.StartEl
		}
		mult := s.cfg.Simulator.SpeedMultiplier
		if msg.SpeedMultiplier != nil && *msg.SpeedMultiplier > 0 {
			mult = *msg.SpeedMultiplier
		}
		s.sim.Reset(az, el, mult)
	default:
		log.Printf("unknown command %q", msg.Command)
	}
}

// StatusSocketHandler streams a status message on every controller
// callback and accepts Command messages from the client.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages.
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				return
			}
			s.dispatch(msg)
		}
	}()

	send := func(status controller.Status) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if err := send(status); err != nil {
		log.Print(err)
		return
	}

	for {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := send(status); err != nil {
			log.Print(err)
			return
		}
	}
}
