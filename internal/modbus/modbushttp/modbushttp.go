// Package modbushttp tunnels raw Modbus RTU ADUs over HTTP, pairing with
// the mcb_server binary for boards plugged into another machine.
package modbushttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/goburrow/modbus"
)

// SendResponse is the wire format mcb_server replies with.
type SendResponse struct {
	ADUResponse []byte
	Error       string
}

// Client is a modbus.ClientHandler that posts each ADU to a remote
// mcb_server. Credentials embedded in the URL ride as HTTP basic auth.
type Client struct {
	*modbus.RTUClientHandler

	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 1
	return &Client{
		RTUClientHandler: handler,
		baseURL:          baseURL,
		http:             &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Send(aduRequest []byte) ([]byte, error) {
	resp, err := c.http.Post(c.baseURL, "application/octet-stream", bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}

// Connect and Close satisfy the handler contract; the HTTP transport is
// stateless.
func (c *Client) Connect() error { return nil }

func (c *Client) Close() error { return nil }
