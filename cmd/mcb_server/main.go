// Command mcb_server exposes a serial Modbus bus over HTTP, so a rotord
// on another machine can drive the motor control board remotely through
// internal/modbus/modbushttp.
package main

import (
	"encoding/json"
	"flag"
	"io/ioutil"
	"log"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"

	"github.com/w1xm/rotor_controller/internal/modbus/modbushttp"
)

var (
	addr       = flag.String("addr", ":8503", "address to listen on")
	password   = flag.String("password", "", "password to require on remote connections")
	serialPort = flag.String("serial", "/dev/ttyUSB0", "motor control board serial port")
	baud       = flag.Int("baud", 19200, "motor control board baud rate")
)

type Server struct {
	handler  *modbus.RTUClientHandler
	password string
}

func NewServer(port string, baud int, password string) *Server {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = 1
	return &Server{
		handler:  handler,
		password: password,
	}
}

// SendHandler relays one raw ADU to the bus and returns the bus response.
// Concurrent requests are serialized by the RTU handler itself.
func (s *Server) SendHandler(w http.ResponseWriter, r *http.Request) {
	_, pass, ok := r.BasicAuth()
	if !ok || pass != s.password {
		http.Error(w, "wrong password", http.StatusUnauthorized)
		return
	}
	err := func() error {
		aduRequest, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return err
		}
		aduResponse, err := s.handler.Send(aduRequest)
		var errString string
		if err != nil {
			errString = err.Error()
		}
		body, err := json.Marshal(&modbushttp.SendResponse{
			ADUResponse: aduResponse,
			Error:       errString,
		})
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(body)
		return err
	}()
	if err != nil {
		log.Printf("SendHandler: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func main() {
	flag.Parse()
	server := NewServer(*serialPort, *baud, *password)
	r := mux.NewRouter()
	r.Handle("/api/send", http.HandlerFunc(server.SendHandler))
	r.PathPrefix("/debug").Handler(http.DefaultServeMux)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Printf("Listening on %v", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
