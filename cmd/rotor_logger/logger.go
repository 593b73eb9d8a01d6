// Command rotor_logger mirrors the rotord status stream into InfluxDB.
// It dials the websocket, flattens every status message into fields, and
// writes them as rotor.status points. Connection loss on either side is
// retried forever.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

func main() {
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:9999"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Non-blocking write client; errors surface on a channel.
	writeApi := client.WriteApi("w1xm", "rotor.raw")
	defer writeApi.Close()
	errorsCh := writeApi.Errors()
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()
	for {
		if err := logData(writeApi); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns arbitrarily nested JSON into dotted field names.
// Null values (an axis with no target) are skipped; a missing field says
// the same thing in a query.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		// A bare top-level scalar has no field name to carry it.
		if prefix == "" {
			return
		}
		fields[prefix[1:]] = status
	}
}

func logData(writeApi api.WriteApi) error {
	url := os.Getenv("ROTORD_ADDRESS")
	if url == "" {
		url = "ws://localhost:8502/api/ws"
	}
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")

		p := influxdb2.NewPoint("rotor.status",
			nil,
			fields,
			time.Now(),
		)
		// write asynchronously
		writeApi.WritePoint(p)
	}
}
