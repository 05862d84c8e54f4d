package main

import (
	"encoding/json"
	"time"

	"calculogic/internal/builder"
)

// CreateItemRequest is the payload for creating a new item.
type CreateItemRequest struct {
	Title    string `json:"title" validate:"required"`
	ItemType string `json:"itemType" validate:"required,oneof=calculator quiz template"`
}

// UpdateItemRequest is a partial update; absent fields keep their value.
// Reference and category lists hold at most 200 entries.
type UpdateItemRequest struct {
	Title        *string         `json:"title,omitempty"`
	ItemType     *string         `json:"itemType,omitempty" validate:"omitempty,oneof=calculator quiz template"`
	Content      *string         `json:"content,omitempty"`
	ConfigIDs    *[]string       `json:"configIds,omitempty" validate:"omitempty,max=200"`
	KnowledgeIDs *[]string       `json:"knowledgeIds,omitempty" validate:"omitempty,max=200"`
	Categories   *[]string       `json:"categories,omitempty" validate:"omitempty,max=200"`
	Status       *string         `json:"status,omitempty" validate:"omitempty,oneof=draft published"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	IfRevision   int64           `json:"ifRevision,omitempty" validate:"gte=0"`
}

func (req UpdateItemRequest) fields() builder.ItemFields {
	fields := builder.ItemFields{
		Title:        req.Title,
		Content:      req.Content,
		ConfigIDs:    req.ConfigIDs,
		KnowledgeIDs: req.KnowledgeIDs,
		Categories:   req.Categories,
		Settings:     req.Settings,
		IfRevision:   req.IfRevision,
	}
	if req.ItemType != nil {
		t := builder.ItemType(*req.ItemType)
		fields.Type = &t
	}
	if req.Status != nil {
		s := builder.Status(*req.Status)
		fields.Status = &s
	}
	return fields
}

// DuplicateItemRequest names the copy.
type DuplicateItemRequest struct {
	Title string `json:"title" validate:"required"`
}

// RecordResultRequest is one completed submission.
type RecordResultRequest struct {
	UserInputs      json.RawMessage `json:"userInputs" validate:"required"`
	ComputedOutputs json.RawMessage `json:"computedOutputs" validate:"required"`
}

// CreateConfigurationRequest is the payload for a new configuration.
type CreateConfigurationRequest struct {
	Title      string          `json:"title" validate:"required"`
	Document   json.RawMessage `json:"document" validate:"required"`
	Categories []string        `json:"categories,omitempty" validate:"max=200"`
}

// CreateKnowledgeRequest is the payload for a new knowledge entry.
type CreateKnowledgeRequest struct {
	Title   string `json:"title" validate:"required"`
	Content string `json:"content"`
}

// NonceResponse carries a fresh anti-forgery token.
type NonceResponse struct {
	Nonce     string    `json:"nonce"`
	Header    string    `json:"header"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ListResponse wraps a list of records.
type ListResponse[T any] struct {
	Items []T `json:"items"`
}
