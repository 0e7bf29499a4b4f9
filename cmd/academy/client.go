package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/academyhq/academy/internal/config"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// daemonURL returns the base URL of the local daemon
func daemonURL() string {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		cfg = config.DefaultLocalConfig()
	}
	return "http://" + cfg.Daemon.Addr()
}

// apiError is the error body returned by the daemon
type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	Status  int    `json:"status"`
}

// call sends a JSON request to the daemon and decodes the reply into out
func call(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, daemonURL()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable (run 'academy start' first): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e apiError
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		if e.Details != "" {
			return fmt.Errorf("%s: %s", e.Error, e.Details)
		}
		return fmt.Errorf("%s", e.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// isRunning checks if the daemon is running by calling the health endpoint
func isRunning() bool {
	resp, err := httpClient.Get(daemonURL() + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
