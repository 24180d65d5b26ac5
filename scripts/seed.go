// Seed script for loading a demo conversation into Stratum.
// Run with: go run ./scripts/seed.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const demoTenant = "demo"

var client = &http.Client{Timeout: 30 * time.Second}

func main() {
	// Load environment
	envFile := os.Getenv("STRATUM_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	baseURL := os.Getenv("STRATUM_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	status, body := post(baseURL+"/v1/tenants", "", map[string]string{"id": demoTenant})
	switch status {
	case http.StatusCreated:
		fmt.Printf("Created tenant: %s\n", demoTenant)
	case http.StatusConflict:
		fmt.Printf("Tenant %s already exists, reusing\n", demoTenant)
	default:
		log.Fatalf("Failed to create tenant: status %d: %s", status, body)
	}

	// A scripted stand-up conversation. Enough turns to cross the default
	// batch threshold, so consolidation has a real batch to fold.
	conversation := []struct {
		content    string
		importance float64
		speaker    string
	}{
		{"morning folks, quick sync on the v2 migration", 0.3, "sam"},
		{"remember that the cutover must finish before the 15th", 0.9, "maya"},
		{"ok. staging is already on the new schema", 0.5, "sam"},
		{"the replication lag spiked to 40s last night", 0.7, "devon"},
		{"we decided to gate the cutover on lag under 5s", 0.9, "maya"},
		{"I'll add a dashboard panel for the lag metric", 0.4, "devon"},
		{"customer success prefers a saturday window", 0.6, "sam"},
		{"never schedule cutovers on month-end, finance locks the books", 0.95, "maya"},
		{"noted. saturday the 12th then", 0.6, "sam"},
		{"the rollback script needs a dry run first", 0.7, "devon"},
		{"I prefer the dry run on a staging clone, not prod replicas", 0.8, "maya"},
		{"agreed, clone it is", 0.4, "devon"},
		{"who owns the status page update?", 0.3, "sam"},
		{"devon owns comms for the window", 0.6, "maya"},
		{"decided: freeze deploys 24h before the window", 0.9, "sam"},
		{"I'll send the calendar holds today", 0.4, "devon"},
	}

	for _, turn := range conversation {
		status, body := post(baseURL+"/v1/items", demoTenant, map[string]any{
			"content":    turn.content,
			"importance": turn.importance,
			"metadata":   map[string]string{"speaker": turn.speaker},
		})
		if status != http.StatusCreated {
			log.Fatalf("Failed to append item: status %d: %s", status, body)
		}
		fmt.Printf("Appended [%.2f] %s\n", turn.importance, truncate(turn.content, 56))
	}

	// The threshold append usually kicks consolidation on its own; this
	// run reports the outcome either way.
	status, body = post(baseURL+"/v1/consolidate", demoTenant, nil)
	if status != http.StatusOK {
		log.Fatalf("Failed to consolidate: status %d: %s", status, body)
	}
	var result struct {
		Outcome       string `json:"outcome"`
		ItemsExamined int    `json:"items_examined"`
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		log.Fatalf("Failed to decode consolidation result: %v", err)
	}
	fmt.Printf("Consolidation outcome: %s (%d items examined)\n", result.Outcome, result.ItemsExamined)

	// Wait for the session to land (a triggered run may still be in flight).
	var sessions struct {
		Sessions []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"sessions"`
		Count int `json:"count"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, body = get(baseURL+"/v1/sessions", demoTenant)
		if status == http.StatusOK {
			if err := json.Unmarshal([]byte(body), &sessions); err == nil && sessions.Count > 0 {
				break
			}
		}
		if time.Now().After(deadline) {
			log.Fatalf("No session appeared after consolidation: status %d: %s", status, body)
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Printf("Session created: %s\n", sessions.Sessions[0].ID)
	fmt.Printf("Summary: %s\n", truncate(sessions.Sessions[0].Summary, 100))

	query := "cutover deadline"
	status, body = get(baseURL+"/v1/recall?query="+url.QueryEscape(query)+"&limit=5", demoTenant)
	if status != http.StatusOK {
		log.Fatalf("Recall failed: status %d: %s", status, body)
	}
	var recall struct {
		Results []struct {
			Content    string   `json:"content"`
			Source     string   `json:"source"`
			Strategies []string `json:"strategies"`
		} `json:"results"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(body), &recall); err != nil {
		log.Fatalf("Failed to decode recall response: %v", err)
	}
	fmt.Printf("\nRecall %q returned %d results:\n", query, recall.Count)
	for _, r := range recall.Results {
		fmt.Printf("  [%s] %s\n", r.Source, truncate(r.Content, 70))
	}

	fmt.Println("\nDone. Try:")
	fmt.Printf("  curl -H 'X-Tenant-ID: %s' '%s/v1/recall?query=rollback'\n", demoTenant, baseURL)
	fmt.Printf("  curl -H 'X-Tenant-ID: %s' '%s/v1/stats'\n", demoTenant, baseURL)
}

func post(target, tenant string, payload any) (int, string) {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(http.MethodPost, target, reader)
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	return do(req)
}

func get(target, tenant string) (int, string) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	return do(req)
}

func do(req *http.Request) (int, string) {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v (is the server running?)", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, string(body)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
