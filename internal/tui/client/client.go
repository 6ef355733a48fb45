// Package client provides the HTTP client the TUI uses to talk to the
// filewarden API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client handles API communication with the filewarden backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Stats is the dashboard view of GET /api/stats plus health.
type Stats struct {
	Healthy           bool
	StatusReason      string
	UnprocessedEvents int64            `json:"unprocessed_events"`
	LogsByType        map[string]int64 `json:"logs_by_type"`
	Rules             RuleStats        `json:"rules"`
	RuleCacheAgeMS    int64            `json:"rule_cache_age_ms"`
	Dispatch          map[string]any   `json:"dispatch"`
	RateLimited       uint64           `json:"rate_limited_requests"`
	Allowed           uint64           `json:"allowed_requests"`
}

// RuleStats mirrors the rules block of the stats payload.
type RuleStats struct {
	TotalRules    int            `json:"total_rules"`
	AdaptiveRules int            `json:"adaptive_rules"`
	BySeverity    map[string]int `json:"by_severity"`
}

// Event is a monitored file activity event.
type Event struct {
	ID             int64     `json:"id"`
	EventType      string    `json:"event_type"`
	TargetFileID   *int64    `json:"target_file_id"`
	TargetFolderID *int64    `json:"target_folder_id"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessedFlag  bool      `json:"processed_flag"`
}

// Rule is a scoring rule.
type Rule struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	SeverityLevel string    `json:"severity_level"`
	ActionType    string    `json:"action_type"`
	AdaptiveFlag  bool      `json:"adaptive_flag"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Log is one audit log line.
type Log struct {
	ID             int64     `json:"id"`
	LogType        string    `json:"log_type"`
	Message        string    `json:"message"`
	RelatedEventID *int64    `json:"related_event_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewClient creates an API client. Token may be empty when the backend
// runs with auth disabled.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Login exchanges credentials for a bearer token and stores it on the
// client.
func (c *Client) Login(username, password string) error {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	resp, err := c.httpClient.Post(c.baseURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	c.token = out.Token
	return nil
}

func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetStats fetches combined stats for the dashboard. Connection errors
// produce an unhealthy Stats rather than a hard failure so the
// dashboard can render the outage.
func (c *Client) GetStats() (*Stats, error) {
	stats := &Stats{
		Healthy:      false,
		StatusReason: "Unable to connect to backend",
	}

	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		stats.StatusReason = err.Error()
		return stats, nil
	}
	resp.Body.Close()
	stats.Healthy = resp.StatusCode == http.StatusOK
	if stats.Healthy {
		stats.StatusReason = "All systems operational"
	} else {
		stats.StatusReason = fmt.Sprintf("Health check returned %d", resp.StatusCode)
	}

	if err := c.get("/api/stats", stats); err != nil {
		stats.StatusReason = err.Error()
	}
	return stats, nil
}

// GetEvents fetches the most recent events.
func (c *Client) GetEvents(limit int) ([]Event, error) {
	var events []Event
	if err := c.get(fmt.Sprintf("/api/events?limit=%d", limit), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetRules fetches the full rule set.
func (c *Client) GetRules() ([]Rule, error) {
	var ruleSet []Rule
	if err := c.get("/api/rules", &ruleSet); err != nil {
		return nil, err
	}
	return ruleSet, nil
}

// GetLogs fetches recent audit logs, optionally filtered by type.
func (c *Client) GetLogs(logType string, limit int) ([]Log, error) {
	path := fmt.Sprintf("/api/logs?limit=%d", limit)
	if logType != "" {
		path += "&type=" + logType
	}
	var logs []Log
	if err := c.get(path, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
