package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// clientPublish reads a single JSON payload from stdin and publishes it
// with the given tags, printing the node's response.
func clientPublish(apiAddr, token string, tags []string) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	body := map[string]interface{}{
		"data": []map[string]interface{}{
			{"tags": tags, "payload": json.RawMessage(payload)},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := doRequest(apiAddr, token, "POST", "/api/v2/events/publish", raw)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

// clientQuery runs a bounded query and prints every ndjson response line.
func clientQuery(apiAddr, token, query string) error {
	body, err := json.Marshal(map[string]string{"query": query, "order": "asc"})
	if err != nil {
		return err
	}
	resp, err := doRequest(apiAddr, token, "POST", "/api/v2/events/query", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printLines(resp)
}

// clientSubscribe subscribes to a query and streams ndjson lines until the
// node closes the connection.
func clientSubscribe(apiAddr, token, query string) error {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return err
	}
	resp, err := doRequest(apiAddr, token, "POST", "/api/v2/events/subscribe", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printLines(resp)
}

// clientAuth exchanges a trial app manifest for a bearer token and prints
// it to stdout.
func clientAuth(apiAddr, appId string) error {
	body, err := json.Marshal(map[string]string{
		"appId":       appId,
		"displayName": appId,
		"version":     "0.0.1",
	})
	if err != nil {
		return err
	}
	resp, err := doRequest(apiAddr, "", "POST", "/api/v2/auth", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func doRequest(apiAddr, token, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, apiAddr+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(msg))
	}
	return resp, nil
}

func printBody(resp *http.Response) error {
	_, err := io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	return err
}

func printLines(resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	return scanner.Err()
}
