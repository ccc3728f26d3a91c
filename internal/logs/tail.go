package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	maxLineBytes          = 1024 * 1024
	defaultFollowInterval = 250 * time.Millisecond
)

// Last returns up to n trailing complete lines of path and the offset just
// past the last newline. A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanCompleteLines)

	var ring []string
	if n > 0 {
		ring = make([]string, n)
	}
	var offset int64
	count := 0
	for scanner.Scan() {
		offset += int64(len(scanner.Bytes())) + 1
		if n > 0 {
			ring[count%n] = scanner.Text()
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	if n <= 0 {
		return nil, offset, nil
	}
	if count <= n {
		return ring[:count], offset, nil
	}
	lines := make([]string, n)
	for i := range n {
		lines[i] = ring[(count+i)%n]
	}
	return lines, offset, nil
}

// ReadFrom returns the complete lines written at or after offset and the
// offset after them. A trailing line without a newline is left for the next
// call so a writer mid-line is never split.
func ReadFrom(path string, offset int64) ([]string, int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		// Truncated or rotated underneath us; start over.
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(scanCompleteLines)
	var lines []string
	for scanner.Scan() {
		offset += int64(len(scanner.Bytes())) + 1
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, offset, fmt.Errorf("read log file: %w", err)
	}
	return lines, offset, nil
}

// Follow calls emit for every line appended to path after offset until ctx
// is cancelled. The file may not exist yet.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, emit func(string)) error {
	if interval <= 0 {
		interval = defaultFollowInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		lines, next, err := ReadFrom(path, offset)
		if err != nil {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

// scanCompleteLines is bufio.ScanLines without the final unterminated token.
func scanCompleteLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	return 0, nil, nil
}
