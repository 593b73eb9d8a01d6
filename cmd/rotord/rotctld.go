package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
)

const (
	rotorModelID = 1
	rotorInfo    = "W1XM Rotor Controller v1.0"
)

// ListenRotctld serves the hamlib rotctld protocol, so gpredict and
// rotctl can drive the antenna directly.
func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("rotctld listening on %v", ln.Addr())
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing rotctld socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("failed to accept: %v", err)
				}
				continue
			}
			go s.handleRotctld(conn)
		}
	}()
	return nil
}

func (s *Server) handleRotctld(conn net.Conn) {
	defer conn.Close()
	log.Printf("rotctld connection from %v", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Three forms of command: single character, "\" followed by a
		// command name, or "+\" followed by a command name (the extended
		// form echoes the name and always reports RPRT).
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else if cmd[0] == '\\' {
			parts := strings.Fields(cmd)
			cmd = parts[0][1:]
			args = parts[1:]
		} else {
			// Space after the command character is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		// gpredict polls get_pos several times a second; don't log those.
		if cmd != "p" && cmd != "get_pos" {
			log.Printf("%v command: %q args: %q", conn.RemoteAddr(), cmd, args)
		}
		rprt := -1
		switch cmd {
		case "p", "get_pos":
			s.statusMu.RLock()
			status := s.status
			s.statusMu.RUnlock()
			if extended {
				fmt.Fprintf(conn, "Azimuth: %.1f\nElevation: %.1f\n", status.Azimuth, status.Elevation)
			} else {
				fmt.Fprintf(conn, "%.1f\n%.1f\n", status.Azimuth, status.Elevation)
			}
			rprt = 0
		case "P", "set_pos":
			extended = true // always print RPRT
			if len(args) != 2 {
				break
			}
			az, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				break
			}
			el, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				break
			}
			if az < s.cfg.Azimuth.LimitMin || az > s.cfg.Azimuth.LimitMax ||
				el < s.cfg.Elevation.LimitMin || el > s.cfg.Elevation.LimitMax {
				break
			}
			s.mu.Lock()
			s.tracker.Cancel()
			s.ctrl.SetTarget(&az, &el)
			s.mu.Unlock()
			rprt = 0
		case "S", "stop":
			extended = true
			s.mu.Lock()
			s.tracker.Cancel()
			s.ctrl.Stop()
			s.mu.Unlock()
			rprt = 0
		case "K", "park":
			extended = true
			s.mu.Lock()
			s.tracker.Cancel()
			s.ctrl.Park()
			s.mu.Unlock()
			rprt = 0
		case "R", "reset":
			extended = true
			s.mu.Lock()
			s.tracker.Cancel()
			s.ctrl.Stop()
			s.ctrl.Park()
			s.mu.Unlock()
			rprt = 0
		case "M", "move":
			extended = true
			if len(args) != 2 {
				break
			}
			dir, err := strconv.Atoi(args[0])
			if err != nil {
				break
			}
			// Speed is accepted for protocol compatibility; manual moves
			// always run at pwm_fast.
			if _, err := strconv.Atoi(args[1]); err != nil {
				break
			}
			var act func()
			switch dir {
			case 0:
				act = s.ctrl.Stop
			case 1:
				act = s.ctrl.ManualElUp
			case 2:
				act = s.ctrl.ManualElDown
			case 4:
				act = s.ctrl.ManualAzCCW
			case 8:
				act = s.ctrl.ManualAzCW
			}
			if act == nil {
				break
			}
			s.mu.Lock()
			s.tracker.Cancel()
			act()
			s.mu.Unlock()
			rprt = 0
		case "_", "get_info":
			if extended {
				fmt.Fprintf(conn, "Info: %s\n", rotorInfo)
			} else {
				fmt.Fprintf(conn, "%s\n", rotorInfo)
			}
			rprt = 0
		case "dump_state":
			fmt.Fprintf(conn, "0\n%d\n%.1f\n%.1f\n%.1f\n%.1f\n",
				rotorModelID,
				s.cfg.Azimuth.LimitMin, s.cfg.Azimuth.LimitMax,
				s.cfg.Elevation.LimitMin, s.cfg.Elevation.LimitMax)
			rprt = 0
		case "1", "dump_caps":
			fmt.Fprintf(conn, `Caps dump for model: %d
Model name: W1XM Rotor
Mfg name: W1XM
Rot type: Az-El
Min Azimuth: %.2f
Max Azimuth: %.2f
Min Elevation: %.2f
Max Elevation: %.2f
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: Y
Can Move: Y
Can get Info: Y
`,
				rotorModelID,
				s.cfg.Azimuth.LimitMin, s.cfg.Azimuth.LimitMax,
				s.cfg.Elevation.LimitMin, s.cfg.Elevation.LimitMax)
			rprt = 0
		case "q", "quit":
			return
		}
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", conn.RemoteAddr(), err)
	}
}
