package publisher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Fix is one GPS reading.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	CapturedAt time.Time `json:"capturedAt"`
}

// CancelFunc stops a running source.
type CancelFunc func()

// LocationSource produces fixes until cancelled. The channel is closed when the
// source ends.
type LocationSource interface {
	Start(ctx context.Context) (<-chan Fix, CancelFunc, error)
}

// ReplaySource plays back a newline-delimited JSON file of fixes, one per
// Interval. Fixes are stamped with the time they are emitted.
type ReplaySource struct {
	Path     string
	Interval time.Duration
	Loop     bool
	Now      func() time.Time
}

func (s *ReplaySource) Start(ctx context.Context) (<-chan Fix, CancelFunc, error) {
	fixes, err := readFixes(s.Path)
	if err != nil {
		return nil, nil, err
	}
	if len(fixes) == 0 {
		return nil, nil, fmt.Errorf("replay %s: no fixes", s.Path)
	}

	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() { once.Do(cancel) }

	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			if i == len(fixes) {
				if !s.Loop {
					return
				}
				i = 0
			}
			fix := fixes[i]
			fix.CapturedAt = now()

			select {
			case <-ctx.Done():
				return
			case out <- fix:
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, stop, nil
}

func readFixes(path string) ([]Fix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fixes []Fix
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fix Fix
		if err := json.Unmarshal(raw, &fix); err != nil {
			logrus.WithFields(logrus.Fields{"file": path, "line": line}).WithError(err).Warn("Skipping unreadable fix.")
			continue
		}
		fixes = append(fixes, fix)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fixes, nil
}
