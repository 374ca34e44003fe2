package server

import (
	"khidma/internal/domain"
	"khidma/internal/tools"
)

type FieldResponse struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

type ServiceResponse struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Fee         string          `json:"fee"`
	Fields      []FieldResponse `json:"fields"`
}

func serviceResponse(d tools.Definition) ServiceResponse {
	fields := make([]FieldResponse, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, FieldResponse{
			Name:     f.Name,
			Label:    f.Label,
			Type:     f.Type,
			Required: f.Required,
			Options:  f.Options,
		})
	}
	return ServiceResponse{
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Category:    d.Category,
		Description: d.Description,
		Fee:         d.FeeLabel,
		Fields:      fields,
	}
}

func mapServices(defs []tools.Definition) []ServiceResponse {
	res := make([]ServiceResponse, 0, len(defs))
	for _, d := range defs {
		res = append(res, serviceResponse(d))
	}
	return res
}

type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func conversationResponse(c domain.Conversation) ConversationResponse {
	return ConversationResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func mapConversations(items []domain.Conversation) []ConversationResponse {
	res := make([]ConversationResponse, 0, len(items))
	for _, c := range items {
		res = append(res, conversationResponse(c))
	}
	return res
}

type MessageResponse struct {
	ID          string                  `json:"id"`
	Role        string                  `json:"role" enum:"user,assistant"`
	Content     string                  `json:"content"`
	Kind        string                  `json:"kind,omitempty" enum:"text,voice,image"`
	Attachments []domain.Attachment     `json:"attachments"`
	ToolCalls   []domain.ToolInvocation `json:"tool_calls"`
	CreatedAt   string                  `json:"created_at" format:"date-time"`
}

func messageResponse(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:          m.ID,
		Role:        m.Role,
		Content:     m.Content,
		Kind:        m.Kind,
		Attachments: nonNilSlice(m.Attachments),
		ToolCalls:   nonNilSlice(m.ToolCalls),
		CreatedAt:   m.CreatedAt,
	}
}

func mapMessages(items []domain.Message) []MessageResponse {
	res := make([]MessageResponse, 0, len(items))
	for _, m := range items {
		res = append(res, messageResponse(m))
	}
	return res
}

type ServiceRequestResponse struct {
	ID              string         `json:"id"`
	ServiceType     string         `json:"service_type"`
	ServiceCategory string         `json:"service_category"`
	Status          string         `json:"status" enum:"pending,processing,completed,cancelled"`
	RequestPayload  map[string]any `json:"request_payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
	ResultPayload   map[string]any `json:"result_payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
	ConversationID  *string        `json:"conversation_id,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

func requestResponse(sr domain.ServiceRequest) ServiceRequestResponse {
	return ServiceRequestResponse{
		ID:              sr.ID,
		ServiceType:     sr.ServiceType,
		ServiceCategory: sr.ServiceCategory,
		Status:          sr.Status,
		RequestPayload:  sr.RequestPayload,
		ResultPayload:   sr.ResultPayload,
		ConversationID:  sr.ConversationID,
		CreatedAt:       sr.CreatedAt,
		UpdatedAt:       sr.UpdatedAt,
	}
}

func mapRequests(items []domain.ServiceRequest) []ServiceRequestResponse {
	res := make([]ServiceRequestResponse, 0, len(items))
	for _, sr := range items {
		res = append(res, requestResponse(sr))
	}
	return res
}

type ArticleResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

func mapArticles(items []domain.Article) []ArticleResponse {
	res := make([]ArticleResponse, 0, len(items))
	for _, a := range items {
		res = append(res, ArticleResponse{ID: a.ID, Title: a.Title, Content: a.Content, Category: a.Category})
	}
	return res
}

type TurnRequest struct {
	ConversationID string              `json:"conversation_id,omitempty"`
	Content        string              `json:"content"`
	Kind           string              `json:"kind,omitempty" enum:"text,voice,image"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
}

type TurnResponse struct {
	Conversation     domain.Conversation `json:"conversation"`
	UserMessage      domain.Message      `json:"user_message"`
	AssistantMessage domain.Message      `json:"assistant_message"`
}

type ExecuteRequest struct {
	Args          map[string]any `json:"args,omitempty" jsonschema:"type=object,additionalProperties=true"`
	PaymentMethod string         `json:"payment_method,omitempty"`
}

type ExecuteResponse struct {
	Result    domain.ToolResult `json:"result"`
	RequestID string            `json:"request_id"`
}

type RequestListResponse struct {
	Items      []ServiceRequestResponse `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID        string         `json:"user_id"`
	Source        string         `json:"source"`
	RequestCounts map[string]int `json:"request_counts" jsonschema:"type=object,additionalProperties=true"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
