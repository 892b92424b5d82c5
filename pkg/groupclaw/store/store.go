// Package store persists the tracked WhatsApp groups and their "today"
// conversation snapshots in a two-column CSV file, plus the admin identity
// file. The CSV is always rewritten wholesale; there is no append path.
package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// CSV column names. The header row is required.
const (
	ColumnGroupName    = "groupName"
	ColumnConversation = "Conversation"
)

var (
	// ErrGroupExists is returned when adding a group name that is already tracked.
	ErrGroupExists = errors.New("group already exists")

	// ErrGroupNotFound is returned when removing an unknown group.
	ErrGroupNotFound = errors.New("group not found")

	// ErrInvalidGroupName is returned for empty or whitespace-only names.
	ErrInvalidGroupName = errors.New("group name must not be empty")

	// ErrDuplicateGroup is returned by Save when two records share a name.
	ErrDuplicateGroup = errors.New("duplicate group name")

	// ErrCorruptConversation is returned by Load when a Conversation cell is
	// not a JSON array of messages.
	ErrCorruptConversation = errors.New("corrupt conversation cell")
)

// Message is one chat line attributed to a sender.
type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"message"`
}

// Group is a tracked conversation thread keyed by its display name.
type Group struct {
	Name         string    `json:"name"`
	Conversation []Message `json:"conversation"`
}

// CSVStore reads and rewrites the group store file.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

// NewCSVStore returns a store backed by the CSV file at path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Path returns the backing file path.
func (s *CSVStore) Path() string { return s.path }

// Init creates the file with only a header row if it does not exist yet.
func (s *CSVStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking group store: %w", err)
	}
	return s.write(nil)
}

// Load reads every group in file order. A blank Conversation cell reads as
// an empty conversation.
func (s *CSVStore) Load() ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Names returns the group names in file order without decoding
// conversations, so a corrupt cell never blocks a sync pass.
func (s *CSVStore) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, nameIdx, _, err := s.readRows()
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row []string, _ int) string {
		return strings.TrimSpace(row[nameIdx])
	}), nil
}

// Save replaces the whole file with groups, in the given order.
func (s *CSVStore) Save(groups []Group) error {
	if err := validateGroups(groups); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(groups)
}

// Add appends a new group with an empty conversation. Existing groups keep
// their conversations. A missing file is created.
func (s *CSVStore) Add(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidGroupName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.read()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	names := lo.Map(groups, func(g Group, _ int) string { return g.Name })
	if lo.Contains(names, name) {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}
	return s.write(append(groups, Group{Name: name, Conversation: []Message{}}))
}

// Remove deletes the named group and keeps every other group untouched.
func (s *CSVStore) Remove(name string) error {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.read()
	if err != nil {
		return err
	}
	kept := lo.Filter(groups, func(g Group, _ int) bool { return g.Name != name })
	if len(kept) == len(groups) {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return s.write(kept)
}

// ---------- Internal ----------

func (s *CSVStore) read() ([]Group, error) {
	rows, nameIdx, convIdx, err := s.readRows()
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(rows))
	for i, row := range rows {
		name := strings.TrimSpace(row[nameIdx])
		conv, err := DecodeConversation(row[convIdx])
		if err != nil {
			// Header is line 1, first record is line 2.
			return nil, fmt.Errorf("%w: group %q (line %d): %v", ErrCorruptConversation, name, i+2, err)
		}
		groups = append(groups, Group{Name: name, Conversation: conv})
	}
	return groups, nil
}

// readRows returns the data rows plus the indexes of the two known columns.
func (s *CSVStore) readRows() ([][]string, int, int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("opening group store: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, 0, fmt.Errorf("group store %s has no header row", s.path)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading group store header: %w", err)
	}

	nameIdx, convIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case ColumnGroupName:
			nameIdx = i
		case ColumnConversation:
			convIdx = i
		}
	}
	if nameIdx < 0 || convIdx < 0 {
		return nil, 0, 0, fmt.Errorf("group store %s: header must contain %q and %q", s.path, ColumnGroupName, ColumnConversation)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("reading group store: %w", err)
		}
		// Pad short records so a missing trailing cell reads as blank.
		for len(rec) <= max(nameIdx, convIdx) {
			rec = append(rec, "")
		}
		if strings.TrimSpace(rec[nameIdx]) == "" {
			continue
		}
		rows = append(rows, rec)
	}
	return rows, nameIdx, convIdx, nil
}

// write atomically replaces the file: temp file in the same directory, then rename.
func (s *CSVStore) write(groups []Group) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".groups-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.Write([]string{ColumnGroupName, ColumnConversation}); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	for _, g := range groups {
		cell, err := EncodeConversation(g.Conversation)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encoding conversation for %q: %w", g.Name, err)
		}
		if err := w.Write([]string{g.Name, cell}); err != nil {
			tmp.Close()
			return fmt.Errorf("writing group %q: %w", g.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing group store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing group store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing group store: %w", err)
	}
	return nil
}

func validateGroups(groups []Group) error {
	for _, g := range groups {
		if strings.TrimSpace(g.Name) == "" {
			return ErrInvalidGroupName
		}
	}
	dups := lo.FindDuplicatesBy(groups, func(g Group) string { return g.Name })
	if len(dups) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, dups[0].Name)
	}
	return nil
}

// EncodeConversation renders a conversation as the JSON array stored in the
// Conversation column. A nil conversation encodes as "[]". Non-ASCII text
// and HTML characters are kept verbatim.
func EncodeConversation(conv []Message) (string, error) {
	if conv == nil {
		conv = []Message{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(conv); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeConversation parses a Conversation cell. Blank cells decode to an
// empty, non-nil conversation.
func DecodeConversation(cell string) ([]Message, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || cell == "null" {
		return []Message{}, nil
	}
	var conv []Message
	if err := json.Unmarshal([]byte(cell), &conv); err != nil {
		return nil, err
	}
	if conv == nil {
		conv = []Message{}
	}
	return conv, nil
}

// Transcript renders a conversation as "sender: message" lines.
func Transcript(conv []Message) string {
	lines := lo.Map(conv, func(m Message, _ int) string {
		return m.Sender + ": " + m.Text
	})
	return strings.Join(lines, "\n")
}
