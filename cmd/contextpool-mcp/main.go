package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeResponse mirrors the contextpool API's scrape response model.
type scrapeResponse struct {
	Success   bool   `json:"success"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Content   string `json:"content"`
	ContextID string `json:"context_id"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// poolStatusResponse mirrors the contextpool API's pool projection.
type poolStatusResponse struct {
	Size        int    `json:"size"`
	MaxSize     int    `json:"max_size"`
	InUseCount  int    `json:"in_use_count"`
	QueueLength int    `json:"queue_length"`
	CDPEndpoint string `json:"cdp_endpoint"`
}

// jobResponse mirrors the contextpool API's job projection.
type jobResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result *scrapeResponse `json:"result"`
	Error  string          `json:"error"`
}

func main() {
	apiURL := os.Getenv("CONTEXTPOOL_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CONTEXTPOOL_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "CONTEXTPOOL_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"contextpool",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Scrape a web page through the context pool and return its rendered content. Uses a headless browser, optionally through a tagged (e.g. residential-proxy) isolated browser context."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithArray("tags",
			mcp.Description("Tags the serving context must carry, e.g. [\"residential\"]"),
		),
		mcp.WithString("wait_until",
			mcp.Description("Navigation completion condition: 'load' (default), 'domcontentloaded', 'networkidle', or 'commit'"),
			mcp.Enum("load", "domcontentloaded", "networkidle", "commit"),
		),
		mcp.WithString("script",
			mcp.Description("Optional JavaScript to evaluate in-page after navigation"),
		),
	)
	s.AddTool(scrapeTool, handleScrapeURL(apiURL, apiKey))

	submitJobTool := mcp.NewTool("submit_scrape_job",
		mcp.WithDescription("Submit an asynchronous scrape job and return its job ID immediately, for long-running or high-volume scrapes."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
	)
	s.AddTool(submitJobTool, handleSubmitJob(apiURL, apiKey))

	getJobTool := mcp.NewTool("get_scrape_job",
		mcp.WithDescription("Poll the status (and result, once completed) of a previously submitted scrape job."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by submit_scrape_job"),
		),
	)
	s.AddTool(getJobTool, handleGetJob(apiURL, apiKey))

	poolStatusTool := mcp.NewTool("pool_status",
		mcp.WithDescription("Report the current context pool state: live contexts, in-use count, and queue depth."),
	)
	s.AddTool(poolStatusTool, handlePoolStatus(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the contextpool API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// apiGet sends a GET request to the contextpool API and returns the response body.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleScrapeURL(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := map[string]interface{}{"url": url}
		if tags, err := request.RequireStringSlice("tags"); err == nil && len(tags) > 0 {
			payload["tags"] = tags
		}
		if waitUntil := request.GetString("wait_until", ""); waitUntil != "" {
			payload["wait_until"] = waitUntil
		}
		if script := request.GetString("script", ""); script != "" {
			payload["script"] = script
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/scrape", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scrape request failed: %v", err)), nil
		}

		var sr scrapeResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !sr.Success {
			errMsg := "scrape failed"
			if sr.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", sr.Error.Code, sr.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("URL: %s (status %d, context %s)\n\n", sr.URL, sr.Status, sr.ContextID))
		sb.WriteString(sr.Content)

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleSubmitJob(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/jobs", map[string]string{"url": url})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("job submission failed: %v", err)), nil
		}

		var job jobResponse
		if err := json.Unmarshal(respBody, &job); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Job %s submitted (status: %s)", job.ID, job.Status)), nil
	}
}

func handleGetJob(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}

		respBody, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/jobs/"+jobID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("job lookup failed: %v", err)), nil
		}

		var job jobResponse
		if err := json.Unmarshal(respBody, &job); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if job.Status != "completed" && job.Status != "failed" {
			return mcp.NewToolResultText(fmt.Sprintf("Job %s: %s", job.ID, job.Status)), nil
		}
		if job.Status == "failed" {
			return mcp.NewToolResultError(fmt.Sprintf("Job %s failed: %s", job.ID, job.Error)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Job %s completed\n\n", job.ID))
		if job.Result != nil {
			sb.WriteString(job.Result.Content)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handlePoolStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/pool")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pool status request failed: %v", err)), nil
		}

		var status poolStatusResponse
		if err := json.Unmarshal(respBody, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Pool: %d/%d contexts in use, %d idle, %d queued, CDP at %s",
			status.InUseCount, status.MaxSize, status.Size-status.InUseCount, status.QueueLength, status.CDPEndpoint,
		)), nil
	}
}
