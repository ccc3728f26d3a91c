package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sequentier/internal/fileutil"
)

const (
	recordPrefix     = "queue-"
	recordSuffix     = ".json"
	recordDateLayout = "2006-01-02"
)

// RecordFileName is the record file for the local calendar day of t.
func RecordFileName(t time.Time) string {
	return recordPrefix + t.Local().Format(recordDateLayout) + recordSuffix
}

// RecordPath joins queueDir with the record file for t's day.
func RecordPath(queueDir string, t time.Time) string {
	return filepath.Join(queueDir, RecordFileName(t))
}

// RecordDay parses the day encoded in a record file name.
func RecordDay(name string) (time.Time, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, recordPrefix) || !strings.HasSuffix(base, recordSuffix) {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(recordDateLayout, strings.TrimSuffix(strings.TrimPrefix(base, recordPrefix), recordSuffix), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// ReadRecord decodes one record file. A missing file yields no jobs.
func ReadRecord(path string) ([]Job, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []Job{}, nil
	}
	var jobs []Job
	if err := fileutil.ReadJSON(path, &jobs); err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return jobs, nil
}

func writeRecord(path string, jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}
	if err := fileutil.WriteJSON(path, jobs); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func seedRecord(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %s: %w", ErrPersistence, path, err)
	}
	return writeRecord(path, nil)
}
