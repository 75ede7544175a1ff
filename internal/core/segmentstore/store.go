package segmentstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const manifestFile = "manifest.json"

// Store は録画セグメントをローカルに保持するキャッシュ
//
// セッションごとに <root>/<sessionID>/ を持ち、セグメント本体と manifest.json を置きます。
// 書き込みは一時ファイルへ書いてから rename するため、途中で落ちても壊れた状態は残りません。
type Store struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// New はルートディレクトリを作成して Store を返します
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("segment store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment store root: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

// Put はセグメントを保存し、マニフェストを更新します
// 同じ質問IDが既にあれば置き換え、アップロード済みの印も外します
func (s *Store) Put(sessionID string, entry Entry, r io.Reader) (*Entry, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, err
	}
	if err := validateID("prompt", entry.PromptID); err != nil {
		return nil, err
	}
	if entry.SequenceNumber < 0 {
		return nil, fmt.Errorf("sequence number must not be negative: %d", entry.SequenceNumber)
	}
	entry.Ext = normalizeExt(entry.Ext)
	entry.UploadedURL = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}

	m, err := s.loadManifest(sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if m == nil {
		m = &manifest{SessionID: sessionID}
	}

	size, err := writeAtomic(filepath.Join(dir, entry.fileName()), r)
	if err != nil {
		return nil, fmt.Errorf("failed to write segment: %w", err)
	}
	entry.Size = size
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.now().UTC()
	}

	if i := m.find(entry.PromptID); i >= 0 {
		// 順番が変わった場合は古いファイルを消す
		if old := m.Entries[i]; old.fileName() != entry.fileName() {
			_ = os.Remove(filepath.Join(dir, old.fileName()))
		}
		m.Entries[i] = entry
	} else {
		m.Entries = append(m.Entries, entry)
	}

	if err := s.saveManifest(m); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List はセッションの全セグメントを順番通りに返します
func (s *Store) List(sessionID string) ([]Entry, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest(sessionID)
	if err != nil {
		return nil, err
	}
	return sortedEntries(m.Entries), nil
}

// Pending は未アップロードのセグメントを返します
func (s *Store) Pending(sessionID string) ([]Entry, error) {
	entries, err := s.List(sessionID)
	if err != nil {
		return nil, err
	}
	pending := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Uploaded() {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// Open はセグメント本体を読み出します
func (s *Store) Open(sessionID, promptID string) (io.ReadCloser, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest(sessionID)
	if err != nil {
		return nil, err
	}
	i := m.find(promptID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrEntryNotFound, sessionID, promptID)
	}
	f, err := os.Open(filepath.Join(s.sessionDir(sessionID), m.Entries[i].fileName()))
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	return f, nil
}

// MarkUploaded はセグメントのアップロード先URLを記録します
func (s *Store) MarkUploaded(sessionID, promptID, url string) error {
	if err := validateID("session", sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest(sessionID)
	if err != nil {
		return err
	}
	i := m.find(promptID)
	if i < 0 {
		return fmt.Errorf("%w: %s/%s", ErrEntryNotFound, sessionID, promptID)
	}
	m.Entries[i].UploadedURL = url
	return s.saveManifest(m)
}

// Remove はセッションのキャッシュを丸ごと削除します
func (s *Store) Remove(sessionID string) error {
	if err := validateID("session", sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove session cache: %w", err)
	}
	return nil
}

// Sessions はキャッシュに存在するセッションIDを返します
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment store root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !idPattern.MatchString(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), manifestFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Store) loadManifest(sessionID string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func (s *Store) saveManifest(m *manifest) error {
	m.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(s.sessionDir(m.SessionID), manifestFile)
	if _, err := writeAtomic(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// writeAtomic は同じディレクトリの一時ファイルに書いてから rename します
func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	if copyErr == nil {
		copyErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return 0, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return 0, closeErr
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}

func sortedEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}
