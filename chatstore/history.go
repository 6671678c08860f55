package chatstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	MessagesKey    = "chat_messages_v3"
	LocalUserIDKey = "chat_local_user_id"

	// DefaultMaxRecords bounds the whole history across identities.
	DefaultMaxRecords = 1000
)

// Store reads and writes the shared history blob. All identities live in one
// list, oldest first.
type Store struct {
	mu         sync.Mutex
	blobs      Blobs
	maxRecords int
}

func NewStore(b Blobs, maxRecords int) *Store {
	if maxRecords == 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Store{blobs: b, maxRecords: maxRecords}
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() Blobs { return s.blobs }

// Load returns every record under key. A missing key is an empty history.
func (s *Store) Load(key string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key)
}

// Save replaces the records under key, keeping only the newest.
func (s *Store) Save(key string, recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(key, recs)
}

func (s *Store) load(key string) ([]Record, error) {
	data, err := s.blobs.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return recs, nil
}

func (s *Store) save(key string, recs []Record) error {
	data, err := json.Marshal(Cap(recs, s.maxRecords))
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.blobs.Put(key, data)
}

// ForIdentity returns id's records in stored order.
func (s *Store) ForIdentity(id string) ([]Record, error) {
	all, err := s.Load(MessagesKey)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.UserID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReplaceIdentity drops id's stored records and appends recs after every
// other identity's. Records without SavedAt are stamped with now.
func (s *Store) ReplaceIdentity(id string, recs []Record, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(MessagesKey)
	if err != nil {
		return err
	}
	kept := withoutIdentity(all, id)
	for _, r := range recs {
		if r.SavedAt.IsZero() {
			r.SavedAt = now
		}
		r.UserID = id
		kept = append(kept, r)
	}
	return s.save(MessagesKey, kept)
}

// ClearIdentity removes every record of id.
func (s *Store) ClearIdentity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(MessagesKey)
	if err != nil {
		return err
	}
	return s.save(MessagesKey, withoutIdentity(all, id))
}

// Append adds one record at the end of the history.
func (s *Store) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load(MessagesKey)
	if err != nil {
		return err
	}
	return s.save(MessagesKey, append(all, r))
}

// Summaries lists the identities in the history, most recently active first.
func (s *Store) Summaries() ([]UserSummary, error) {
	all, err := s.Load(MessagesKey)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var out []UserSummary
	for _, r := range all {
		if r.UserID == "" {
			continue
		}
		i, ok := index[r.UserID]
		if !ok {
			name := r.UserName
			if name == "" {
				name = DisplayName(r.UserID)
			}
			i = len(out)
			index[r.UserID] = i
			out = append(out, UserSummary{ID: r.UserID, Name: name})
		}
		u := &out[i]
		u.MessageCount++
		u.LastMessage = r.Text
		u.LastActivity = r.SavedAt
	}
	for i := range out {
		if out[i].LastMessage == "" {
			out[i].LastMessage = "No messages yet"
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func withoutIdentity(all []Record, id string) []Record {
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.UserID != id {
			out = append(out, r)
		}
	}
	return out
}
