package chatstore

import (
	"strings"
	"time"
)

// Kind tells who produced a record.
type Kind string

const (
	KindSent     Kind = "sent"
	KindReceived Kind = "received"
	KindSystem   Kind = "system"
)

// Record is one stored chat message. The JSON names match the history blob
// written by earlier clients.
type Record struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender"`
	Text      string            `json:"text"`
	Type      Kind              `json:"type"`
	UserID    string            `json:"userId"`
	UserName  string            `json:"userName,omitempty"`
	Reactions map[string]string `json:"reactions,omitempty"`
	SavedAt   time.Time         `json:"savedAt"`
	Failed    bool              `json:"failed,omitempty"`
}

// UserSummary describes one identity found in the history.
type UserSummary struct {
	ID           string
	Name         string
	LastMessage  string
	LastActivity time.Time
	MessageCount int
}

// Match reports whether term occurs in the summary's name or id, ignoring
// case. An empty term matches everything.
func (u UserSummary) Match(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.Name), term) || strings.Contains(strings.ToLower(u.ID), term)
}

// FilterSummaries keeps the users matching term, in order.
func FilterSummaries(users []UserSummary, term string) []UserSummary {
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		if u.Match(term) {
			out = append(out, u)
		}
	}
	return out
}

// DisplayName is the name shown for id when none was stored.
func DisplayName(id string) string {
	return "User " + substr(id, 5, 12)
}

func substr(s string, from, to int) string {
	if from > len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}

// Cap keeps the newest max records. A non-positive max keeps everything.
func Cap(recs []Record, max int) []Record {
	if max <= 0 || len(recs) <= max {
		return recs
	}
	return recs[len(recs)-max:]
}
