package emotion_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"companion-service/internal/models"
)

// Client is a client for an external emotion analysis service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// AnalyzeRequest represents a single text analysis request
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// AnalyzeResponse represents the analysis result
type AnalyzeResponse struct {
	PrimaryEmotion   string             `json:"primary_emotion"`
	Emotions         map[string]float64 `json:"emotions,omitempty"`
	Intensity        float64            `json:"intensity"`
	Confidence       float64            `json:"confidence"`
	ProcessingTimeMs float64            `json:"processing_time_ms,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Message string `json:"message"`
}

// NewClient creates a new emotion service client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Analyze sends text to the service and returns its raw answer
func (c *Client) Analyze(ctx context.Context, text string) (*AnalyzeResponse, error) {
	jsonData, err := json.Marshal(AnalyzeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/emotion/analyze", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("emotion service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// Classify adapts Analyze to a sentiment result. Validation of the label
// and scores is left to the caller.
func (c *Client) Classify(ctx context.Context, text string) (*models.SentimentResult, error) {
	res, err := c.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}

	return &models.SentimentResult{
		Label:      models.EmotionLabel(res.PrimaryEmotion),
		Intensity:  res.Intensity,
		Confidence: res.Confidence,
	}, nil
}

// HealthCheck checks if the emotion service is healthy
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("emotion service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}
