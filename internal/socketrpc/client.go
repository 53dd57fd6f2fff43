package socketrpc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/sflogs/internal/model"
)

// Client calls a running sflogs instance over its Unix domain socket.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
	timeout time.Duration
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
		timeout: 2 * time.Minute,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id && resp.Error == nil {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) GridData() ([]model.GridRow, error) {
	var result []model.GridRow
	err := c.call("GridData", nil, &result)
	return result, err
}

func (c *Client) Refresh(manual bool) ([]model.GridRow, error) {
	var result []model.GridRow
	err := c.call("Refresh", map[string]interface{}{"Manual": manual}, &result)
	return result, err
}

func (c *Client) SearchLogs(text string) ([]model.GridRow, error) {
	var result []model.GridRow
	err := c.call("SearchLogs", map[string]interface{}{"Text": text}, &result)
	return result, err
}

func (c *Client) SetSearchFilter(text string) ([]model.GridRow, error) {
	var result []model.GridRow
	err := c.call("SetSearchFilter", map[string]interface{}{"Text": text}, &result)
	return result, err
}

func (c *Client) ClearSearch() ([]model.GridRow, error) {
	var result []model.GridRow
	err := c.call("ClearSearch", nil, &result)
	return result, err
}

func (c *Client) GetSearchFilter() (string, error) {
	var result string
	err := c.call("GetSearchFilter", nil, &result)
	return result, err
}

func (c *Client) GetSettings() (SettingsView, error) {
	var result SettingsView
	err := c.call("GetSettings", nil, &result)
	return result, err
}

func (c *Client) SetCurrentUserOnly(enabled bool) (SettingsView, error) {
	var result SettingsView
	err := c.call("SetCurrentUserOnly", map[string]interface{}{"Enabled": enabled}, &result)
	return result, err
}

func (c *Client) SetAutoRefresh(enabled bool) (SettingsView, error) {
	var result SettingsView
	err := c.call("SetAutoRefresh", map[string]interface{}{"Enabled": enabled}, &result)
	return result, err
}

func (c *Client) SetRefreshInterval(d time.Duration) (SettingsView, error) {
	var result SettingsView
	err := c.call("SetRefreshInterval", map[string]interface{}{"Interval": d.String()}, &result)
	return result, err
}

func (c *Client) OpenLog(id string) (OpenLogResult, error) {
	var result OpenLogResult
	err := c.call("OpenLog", map[string]interface{}{"ID": id}, &result)
	return result, err
}

func (c *Client) DeleteAll() (DeleteAllResult, error) {
	var result DeleteAllResult
	err := c.call("DeleteAll", nil, &result)
	return result, err
}
