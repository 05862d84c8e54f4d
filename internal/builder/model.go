// Package builder owns the lifecycle of builder items (calculators, quizzes
// and templates), the configurations and knowledge entries they reference
// and the results recorded against them, together with the authorization
// rules that guard every operation.
package builder

import (
	"encoding/json"
	"time"
)

// ItemType classifies a builder item.
type ItemType string

const (
	TypeCalculator ItemType = "calculator"
	TypeQuiz       ItemType = "quiz"
	TypeTemplate   ItemType = "template"
)

// ItemTypes lists every recognized item type in display order.
var ItemTypes = []ItemType{TypeCalculator, TypeQuiz, TypeTemplate}

// Valid reports whether t is one of the recognized item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeCalculator, TypeQuiz, TypeTemplate:
		return true
	}
	return false
}

// Status governs the visibility of an item.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

// FilterAll is the list filter that matches every item type.
const FilterAll = "all"

// Item is a calculator, quiz or template managed by the builder.
type Item struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Type      ItemType `json:"itemType"`
	Content   string   `json:"content"`
	OwnerID   string   `json:"ownerId"`
	ConfigIDs []string `json:"configIds"`
	// KnowledgeIDs references knowledge entries in caller order.
	KnowledgeIDs []string `json:"knowledgeIds"`
	// Categories holds category paths such as "finance/tax", see
	// NormalizeCategory.
	Categories []string        `json:"categories"`
	Status     Status          `json:"status"`
	Settings   json.RawMessage `json:"settings,omitempty"`
	Revision   int64           `json:"revision"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// clone returns a copy of the item that shares no slices with it.
func (i Item) clone() Item {
	out := i
	out.ConfigIDs = append([]string{}, i.ConfigIDs...)
	out.KnowledgeIDs = append([]string{}, i.KnowledgeIDs...)
	out.Categories = append([]string{}, i.Categories...)
	if i.Settings != nil {
		out.Settings = append(json.RawMessage{}, i.Settings...)
	}
	return out
}

// ItemFields is a partial update of an item. Nil fields keep their stored
// value.
type ItemFields struct {
	Title     *string
	Type      *ItemType
	Content   *string
	ConfigIDs *[]string
	// KnowledgeIDs is pruned of unknown ids like ConfigIDs.
	KnowledgeIDs *[]string
	Categories   *[]string
	Status       *Status
	// Settings replaces the inline settings document; the literal null
	// clears it.
	Settings json.RawMessage
	// IfRevision, when non-zero, must equal the stored revision.
	IfRevision int64
}

// Configuration is a reusable field, workflow or styling document that can
// be attached to any number of items.
type Configuration struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Document   json.RawMessage `json:"document"`
	Categories []string        `json:"categories"`
	OwnerID    string          `json:"ownerId"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// KnowledgeEntry is a public piece of domain data, such as a rate table or a
// formula library, that items reference by id.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Result is the immutable record of one completed submission against an
// item.
type Result struct {
	ID              string          `json:"id"`
	ItemID          string          `json:"parentItemId"`
	UserInputs      json.RawMessage `json:"userInputs"`
	ComputedOutputs json.RawMessage `json:"computedOutputs"`
	SubmittedBy     string          `json:"submittedBy,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Principal identifies the caller of an operation. The zero value is an
// anonymous visitor.
type Principal struct {
	UserID string
	Admin  bool
}

// Anonymous reports whether the principal carries no user identity.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

// Summary is the dashboard view of the items visible to a caller.
type Summary struct {
	Admin    bool             `json:"admin"`
	Total    int              `json:"total"`
	ByType   map[ItemType]int `json:"byType"`
	ByStatus map[Status]int   `json:"byStatus"`
}
