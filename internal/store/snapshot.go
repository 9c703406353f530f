package store

import (
	"encoding/json"
	"fmt"

	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/value"
)

type snapshotEntry struct {
	Entry
	Template json.RawMessage `json:"template"`
}

type snapshot struct {
	Version int               `json:"version"`
	Subject string            `json:"subject"`
	Schema  []value.FieldSpec `json:"schema,omitempty"`
	Entries []snapshotEntry   `json:"entries"`
}

const snapshotVersion = 1

// Snapshot encodes a subject's templates and field schema as JSON
func (s *Store) Snapshot(h Handle) ([]byte, error) {
	entries, err := s.Entries(h)
	if err != nil {
		return nil, err
	}
	schema, err := s.Schema(h)
	if err != nil {
		return nil, err
	}

	snap := snapshot{
		Version: snapshotVersion,
		Subject: h.Subject,
		Schema:  schema.Specs(),
		Entries: make([]snapshotEntry, 0, len(entries)),
	}
	for _, e := range entries {
		data, err := json.Marshal(e.Template)
		if err != nil {
			return nil, fmt.Errorf("encode template %q: %w", e.Key, err)
		}
		snap.Entries = append(snap.Entries, snapshotEntry{Entry: e, Template: data})
	}
	return json.Marshal(snap)
}

// Restore loads a snapshot into the subject behind h, replacing entries
// with the same key and the schema when the snapshot carries one. Every
// template is decoded and validated before any is stored.
func (s *Store) Restore(h Handle, data []byte) (int, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	entries := make([]*Entry, 0, len(snap.Entries))
	for _, se := range snap.Entries {
		t, err := template.Unmarshal(se.Template)
		if err != nil {
			return 0, fmt.Errorf("entry %q: %w", se.Key, err)
		}
		e := se.Entry
		e.Template = t
		e.size = template.Size(t)
		entries = append(entries, &e)
	}

	sub, err := s.resolve(h)
	if err != nil {
		return 0, err
	}
	defer sub.mu.Unlock()

	if len(snap.Schema) > 0 {
		sub.schema = value.NewSchema(snap.Schema...)
	}
	for i, e := range entries {
		if err := s.place(h.Subject, sub, e); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
