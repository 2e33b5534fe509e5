package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "contextpool API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	concurrency = flag.Int("concurrency", 10, "Number of concurrent callers")
	requests    = flag.Int("requests", 50, "Total scrape requests to fire")
	url         = flag.String("url", "https://example.com", "URL every request scrapes")
	output      = flag.String("output", "poolbench-results.json", "JSON output file path")
)

// scrapeResponse mirrors the contextpool API's scrape response model.
type scrapeResponse struct {
	Success     bool   `json:"success"`
	Status      int    `json:"status"`
	ContextID   string `json:"context_id"`
	QueueWaitMs int64  `json:"queue_wait_ms"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type callResult struct {
	LatencyMs   int64
	QueueWaitMs int64
	ContextID   string
	Success     bool
	ErrorCode   string
}

type benchmarkReport struct {
	Timestamp      string  `json:"timestamp"`
	APIURL         string  `json:"api_url"`
	Concurrency    int     `json:"concurrency"`
	TotalRequests  int     `json:"total_requests"`
	SuccessCount   int     `json:"success_count"`
	DistinctCtxIDs int     `json:"distinct_context_ids"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	AvgQueueWaitMs float64 `json:"avg_queue_wait_ms"`
	MaxLatencyMs   int64   `json:"max_latency_ms"`
}

func main() {
	flag.Parse()

	fmt.Println("=== contextpool load generator ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Concurrency:  %d\n", *concurrency)
	fmt.Printf("Requests:     %d\n", *requests)
	fmt.Printf("Target:       %s\n", *url)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	results := run(*url, *concurrency, *requests)
	report := summarize(results)

	printTable(report)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// run fires `total` scrape requests against the API, `concurrency` at a
// time, exercising the same select-or-create-or-wait path every caller of
// the pool goes through.
func run(target string, concurrency, total int) []callResult {
	results := make([]callResult, total)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = scrapeOnce(target)
		}(i)
	}
	wg.Wait()
	return results
}

func scrapeOnce(target string) callResult {
	start := time.Now()

	body, _ := json.Marshal(map[string]string{"url": target})
	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return callResult{ErrorCode: "request_build_failed"}
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return callResult{ErrorCode: "request_failed", LatencyMs: time.Since(start).Milliseconds()}
	}
	defer resp.Body.Close()

	var sr scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return callResult{ErrorCode: "decode_failed", LatencyMs: time.Since(start).Milliseconds()}
	}

	cr := callResult{
		LatencyMs:   time.Since(start).Milliseconds(),
		QueueWaitMs: sr.QueueWaitMs,
		ContextID:   sr.ContextID,
		Success:     sr.Success,
	}
	if sr.Error != nil {
		cr.ErrorCode = sr.Error.Code
	}
	return cr
}

func summarize(results []callResult) benchmarkReport {
	report := benchmarkReport{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		APIURL:        *apiURL,
		Concurrency:   *concurrency,
		TotalRequests: len(results),
	}

	seenContexts := make(map[string]struct{})
	var totalLatency, totalQueueWait int64

	for _, r := range results {
		if r.Success {
			report.SuccessCount++
		}
		if r.ContextID != "" {
			seenContexts[r.ContextID] = struct{}{}
		}
		totalLatency += r.LatencyMs
		totalQueueWait += r.QueueWaitMs
		if r.LatencyMs > report.MaxLatencyMs {
			report.MaxLatencyMs = r.LatencyMs
		}
	}

	report.DistinctCtxIDs = len(seenContexts)
	if n := len(results); n > 0 {
		report.AvgLatencyMs = float64(totalLatency) / float64(n)
		report.AvgQueueWaitMs = float64(totalQueueWait) / float64(n)
	}
	return report
}

func printTable(r benchmarkReport) {
	fmt.Println(strings.Repeat("─", 60))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Metric\tValue\n")
	fmt.Fprintf(w, "──────\t─────\n")
	fmt.Fprintf(w, "Total requests\t%d\n", r.TotalRequests)
	fmt.Fprintf(w, "Successful\t%d\n", r.SuccessCount)
	fmt.Fprintf(w, "Distinct contexts used\t%d\n", r.DistinctCtxIDs)
	fmt.Fprintf(w, "Avg latency\t%.0fms\n", r.AvgLatencyMs)
	fmt.Fprintf(w, "Avg queue wait\t%.0fms\n", r.AvgQueueWaitMs)
	fmt.Fprintf(w, "Max latency\t%dms\n", r.MaxLatencyMs)
	w.Flush()
	fmt.Println(strings.Repeat("─", 60))
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
