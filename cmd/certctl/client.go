package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// client wraps the admin HTTP surface. Responses are pretty-printed JSON;
// non-2xx statuses become command errors with the server's error body.
type client struct {
	addr       string
	adminToken string
	actor      string
}

func (c *client) get(cmd *cobra.Command, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.addr+path, nil)
	if err != nil {
		return err
	}
	return c.do(cmd, req)
}

func (c *client) postJSON(cmd *cobra.Command, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, c.addr+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(cmd, req)
}

// postFiles uploads the named files as a multipart form, keyed by part name.
func (c *client) postFiles(cmd *cobra.Command, path string, files map[string]string) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for part, filePath := range files {
		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("open %s report: %w", part, err)
		}
		writer, err := form.CreateFormFile(part, filePath)
		if err == nil {
			_, err = io.Copy(writer, file)
		}
		_ = file.Close()
		if err != nil {
			return fmt.Errorf("attach %s report: %w", part, err)
		}
	}
	if err := form.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, c.addr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(cmd, req)
}

func (c *client) do(cmd *cobra.Command, req *http.Request) error {
	req.Header.Set("X-Admin-Token", c.adminToken)
	if c.actor != "" {
		req.Header.Set("X-Admin-Actor", c.actor)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		cmd.Println(string(body))
		return nil
	}
	cmd.Println(pretty.String())
	return nil
}
