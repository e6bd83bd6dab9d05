package history

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/synctab/synctab/internal/model"
)

// FileStore is an append-only text file, one model.RunRecord line per run.
type FileStore struct {
	mx   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Append(_ context.Context, rec model.RunRecord) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	_, err = f.WriteString(rec.Line() + "\n")
	return errors.Join(err, f.Close())
}

// History scans the whole file, unparseable lines are skipped.
func (s *FileStore) History(ctx context.Context, entityID string) ([]model.RunRecord, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	prefix := entityID + " "
	var ret []model.RunRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rec, err := model.ParseRunRecord(line)
		if err != nil {
			slog.DebugContext(ctx, "skipping history line", "error", err)
			continue
		}
		ret = append(ret, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return ret, nil
}

func (s *FileStore) Close() error {
	return nil
}
