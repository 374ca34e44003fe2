package domain

// Result status of a single tool execution.
const (
	ResultSuccess = "success"
	ResultPending = "pending"
	ResultError   = "error"
)

// Ledger entry status, derived from the tool result.
const (
	RequestPending    = "pending"
	RequestProcessing = "processing"
	RequestCompleted  = "completed"
	RequestCancelled  = "cancelled"
)

// Invocation channel recorded on a ledger entry.
const (
	ChannelAuto  = "auto"
	ChannelAgent = "agent"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Conversation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Attachment struct {
	Kind string `json:"kind" enum:"image,document,audio"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// ToolInvocation is a value embedded in an assistant message and mirrored
// into a ServiceRequest; it is not a durable entity of its own.
type ToolInvocation struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result ToolResult     `json:"result"`
}

type ToolResult struct {
	Status  string         `json:"status" enum:"success,pending,error"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Fee     float64        `json:"fee,omitempty"`
}

type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role" enum:"user,assistant"`
	Content        string           `json:"content"`
	Kind           string           `json:"kind,omitempty" enum:"text,voice,image"`
	Attachments    []Attachment     `json:"attachments,omitempty"`
	ToolCalls      []ToolInvocation `json:"tool_calls,omitempty"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
}

// ServiceRequest is one ledger entry: a durable record of a single execution
// attempt of a tool, regardless of invocation channel. A retry after failure
// creates a new entry rather than mutating the old one.
type ServiceRequest struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	ServiceType     string         `json:"service_type"`
	ServiceCategory string         `json:"service_category"`
	Status          string         `json:"status" enum:"pending,processing,completed,cancelled"`
	RequestPayload  map[string]any `json:"request_payload,omitempty"`
	ResultPayload   map[string]any `json:"result_payload,omitempty"`
	ConversationID  *string        `json:"conversation_id,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

// Civic records read by tool handlers.

type Violation struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	Kind     string  `json:"kind"`
	Location string  `json:"location,omitempty"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status" enum:"outstanding,paid"`
	IssuedAt string  `json:"issued_at" format:"date-time"`
}

type Vehicle struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Plate         string `json:"plate"`
	Model         string `json:"model"`
	RegistryUntil string `json:"registry_until" format:"date-time"`
}

// Worker is an employee sponsored by the user (labor services).
type Worker struct {
	ID          string `json:"id"`
	SponsorID   string `json:"sponsor_id"`
	Name        string `json:"name"`
	Nationality string `json:"nationality,omitempty"`
	IqamaNumber string `json:"iqama_number"`
}

// IdentityDocument covers licenses, passports and iqamas.
type IdentityDocument struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Kind       string `json:"kind" enum:"driving_license,passport,iqama,vehicle_registration"`
	Number     string `json:"number"`
	ValidUntil string `json:"valid_until" format:"date-time"`
}

// Article is a knowledge-base record returned by search_knowledge.
type Article struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// APIKey authenticates non-interactive clients against the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
