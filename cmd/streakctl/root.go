package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiBase   string
	authToken string
	rawJSON   bool
)

var rootCmd = &cobra.Command{
	Use:           "streakctl",
	Short:         "Command-line client for the streakd running tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", envOr("STREAKD_API", "http://localhost:8080"), "base URL of the streakd API")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("STREAKD_TOKEN"), "bearer token for authenticated endpoints")
	rootCmd.PersistentFlags().BoolVar(&rawJSON, "json", false, "print the raw JSON response")

	rootCmd.AddCommand(authCmd, syncCmd, statsCmd, runsCmd)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// apiCall performs one request against the streakd API and decodes the
// JSON response into out. A non-2xx status becomes an error carrying the
// server's error detail.
func apiCall(method, path string, query url.Values, body, out any) error {
	endpoint := apiBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, endpoint, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Type   string `json:"type"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Detail, apiErr.Type)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if rawJSON {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err != nil {
			fmt.Println(string(data))
		} else {
			fmt.Println(pretty.String())
		}
		return nil
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
