package audit

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nammalakes/nodeup/pkg/model"
)

// ParseRecord parses one log line. Lines without a parseable timestamp
// are returned with a zero Timestamp and the whole line as Message.
func ParseRecord(line string) model.AuditRecord {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 0 {
			if ts, err := time.Parse(TimeLayout, line[1:end]); err == nil {
				return model.AuditRecord{Timestamp: ts, Message: line[end+2:]}
			}
		}
	}
	return model.AuditRecord{Message: line}
}

// ReadRecords returns every record in the log, oldest first.
// A missing log is empty, not an error.
func ReadRecords(path string) ([]model.AuditRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var records []model.AuditRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		records = append(records, ParseRecord(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return records, nil
}

// Tail returns the last n records, or all of them when n <= 0.
func Tail(path string, n int) ([]model.AuditRecord, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
