package model

import (
	"sort"
	"time"
)

// Item status constants. An item moves through two generation phases:
// outline (phase 1) and content (phase 2).
const (
	StatusPending           = "PENDING"
	StatusDraftingOutline   = "DRAFTING_OUTLINE"
	StatusOutlineReady      = "OUTLINE_READY"
	StatusPausedForReview   = "PAUSED_FOR_REVIEW"
	StatusGeneratingContent = "GENERATING_CONTENT"
	StatusDone              = "DONE"
	StatusError             = "ERROR"
)

// Item is a single unit of work in the generation queue.
type Item struct {
	ID         string `json:"id"`
	Topic      string `json:"topic"`
	Status     string `json:"status"`
	Outline    string `json:"outline,omitempty"`
	RetryCount int    `json:"retry_count"`
	ErrorMsg   string `json:"error_msg,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// NewItem creates a new Item in PENDING status.
func NewItem(id, topic string) Item {
	now := time.Now().UTC().Format(time.RFC3339)
	return Item{
		ID:        id,
		Topic:     topic,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch refreshes the UpdatedAt timestamp.
func (i *Item) Touch() {
	i.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// InFlight reports whether the status describes work that was mid-phase.
// An in-flight status found in a persisted snapshot cannot be trusted after
// a restart.
func InFlight(status string) bool {
	return status == StatusDraftingOutline || status == StatusGeneratingContent
}

// validTransitions encodes the allowed status edges of the pipeline state
// machine. Anything not listed here is a bug in the caller.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusDraftingOutline: true,
		StatusOutlineReady:    true,
	},
	StatusDraftingOutline: {
		StatusOutlineReady:    true,
		StatusPausedForReview: true,
		StatusError:           true,
	},
	StatusPausedForReview: {
		StatusOutlineReady: true,
	},
	StatusOutlineReady: {
		StatusGeneratingContent: true,
	},
	StatusGeneratingContent: {
		StatusDone:  true,
		StatusError: true,
	},
	StatusError: {
		StatusDraftingOutline:   true,
		StatusOutlineReady:      true,
		StatusGeneratingContent: true,
	},
}

// CanTransition reports whether moving the item to the given status follows
// a defined state-machine edge.
func (i *Item) CanTransition(to string) bool {
	return validTransitions[i.Status][to]
}

// ValidNext returns the statuses reachable from the given one, sorted.
// Terminal statuses yield an empty slice.
func ValidNext(from string) []string {
	next := make([]string, 0, len(validTransitions[from]))
	for to := range validTransitions[from] {
		next = append(next, to)
	}
	sort.Strings(next)
	return next
}

// ValidStatus reports whether s is one of the defined status constants.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusDraftingOutline, StatusOutlineReady,
		StatusPausedForReview, StatusGeneratingContent, StatusDone, StatusError:
		return true
	}
	return false
}
