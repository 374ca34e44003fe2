package khidmasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Khidma HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// ToolResult is the outcome of one service execution.
type ToolResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Fee     float64        `json:"fee,omitempty"`
}

// ToolInvocation summarizes one tool call made during a turn.
type ToolInvocation struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result ToolResult     `json:"result"`
}

// Service describes one invocable service and its field schema.
type Service struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Fee         string  `json:"fee"`
	Fields      []Field `json:"fields"`
}

type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Conversation is a chat thread owned by the authenticated user.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Message is one conversation entry.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Kind      string           `json:"kind,omitempty"`
	ToolCalls []ToolInvocation `json:"tool_calls"`
	CreatedAt string           `json:"created_at"`
}

// ServiceRequest is one ledger entry.
type ServiceRequest struct {
	ID              string         `json:"id"`
	ServiceType     string         `json:"service_type"`
	ServiceCategory string         `json:"service_category"`
	Status          string         `json:"status"`
	RequestPayload  map[string]any `json:"request_payload,omitempty"`
	ResultPayload   map[string]any `json:"result_payload,omitempty"`
	ConversationID  *string        `json:"conversation_id,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// TurnResult is the server's answer to one conversational message.
type TurnResult struct {
	Conversation     Conversation `json:"conversation"`
	UserMessage      Message      `json:"user_message"`
	AssistantMessage Message      `json:"assistant_message"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRequests wraps ledger listings with cursors.
type PaginatedRequests struct {
	Items      []ServiceRequest `json:"items"`
	NextCursor string           `json:"next_cursor"`
}

// Services lists the available services.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var resp []Service
	err := c.do(ctx, http.MethodGet, "v1/services", nil, &resp)
	return resp, err
}

// Execute runs a service directly.
func (c *Client) Execute(ctx context.Context, service string, args map[string]any, paymentMethod string) (ToolResult, string, error) {
	body := map[string]any{"args": args}
	if paymentMethod != "" {
		body["payment_method"] = paymentMethod
	}
	var resp struct {
		Result    ToolResult `json:"result"`
		RequestID string     `json:"request_id"`
	}
	endpoint := fmt.Sprintf("v1/services/%s/execute", url.PathEscape(service))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Result, resp.RequestID, err
}

// Turn sends one conversational message. An empty conversationID starts a new
// conversation.
func (c *Client) Turn(ctx context.Context, conversationID, content string) (TurnResult, error) {
	body := map[string]any{"content": content}
	if conversationID != "" {
		body["conversation_id"] = conversationID
	}
	var resp TurnResult
	err := c.do(ctx, http.MethodPost, "v1/agent/turn", body, &resp)
	return resp, err
}

// Conversations lists the user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp []Conversation
	err := c.do(ctx, http.MethodGet, "v1/conversations", nil, &resp)
	return resp, err
}

// Messages lists a conversation's messages in creation order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp []Message
	endpoint := fmt.Sprintf("v1/conversations/%s/messages", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Requests returns recent ledger entries.
func (c *Client) Requests(ctx context.Context, limit int) ([]ServiceRequest, error) {
	page, err := c.RequestsPage(ctx, limit, "")
	return page.Items, err
}

// RequestsPage returns a paginated ledger listing.
func (c *Client) RequestsPage(ctx context.Context, limit int, cursor string) (PaginatedRequests, error) {
	endpoint := "v1/requests"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedRequests
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Request fetches one ledger entry by id.
func (c *Client) Request(ctx context.Context, id string) (ServiceRequest, error) {
	var resp ServiceRequest
	endpoint := fmt.Sprintf("v1/requests/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
