package driver

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"mealflow/logger"
)

// FileSource reads position fixes from a file holding "lat,lng", rewritten
// in place by an external GPS helper. It polls the file on a fixed cadence.
type FileSource struct {
	path     string
	interval time.Duration
	log      *logger.Log

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFileSource creates a source polling the given file.
func NewFileSource(path string, interval time.Duration) *FileSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &FileSource{
		path:     path,
		interval: interval,
		log:      logger.GetLogger(),
	}
}

// Watch starts polling and returns the fix stream.
func (s *FileSource) Watch() (<-chan Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, fmt.Errorf("location source already watching")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	out := make(chan Position, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pos, err := s.read()
				if err != nil {
					s.log.WithComponent("location_source").WithError(err).Debug("no position fix available")
					continue
				}
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *FileSource) read() (Position, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Position{}, err
	}

	parts := strings.Split(strings.TrimSpace(string(data)), ",")
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("malformed position fix %q", strings.TrimSpace(string(data)))
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Position{}, fmt.Errorf("malformed latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Position{}, fmt.Errorf("malformed longitude: %w", err)
	}
	return Position{Latitude: lat, Longitude: lng}, nil
}

// Close stops polling and releases the watch.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
