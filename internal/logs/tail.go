package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// TailOptions controls how much of the daemon log is read and whether the
// reader keeps following new lines.
type TailOptions struct {
	Limit  int
	Follow bool
	Poll   time.Duration
}

const defaultPoll = 500 * time.Millisecond

// Tail returns up to Limit trailing lines of the log at path. With Follow,
// it keeps emitting new lines through emit until ctx is canceled. A missing
// log file is not an error; follow mode waits for it to appear.
func Tail(ctx context.Context, path string, opts TailOptions, emit func(line string)) error {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}

	offset, err := emitLastLines(path, opts.Limit, emit)
	if err != nil {
		return err
	}
	if !opts.Follow {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Poll):
		}
		offset, err = emitFromOffset(path, offset, emit)
		if err != nil {
			return err
		}
	}
}

// emitLastLines reads the final limit lines and returns the end-of-file
// offset follow mode resumes from.
func emitLastLines(path string, limit int, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var (
		lines   []string
		scanner = bufio.NewScanner(file)
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if limit > 0 && len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read log file: %w", err)
	}
	for _, line := range lines {
		emit(line)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek log file: %w", err)
	}
	return end, nil
}

// emitFromOffset reads complete lines appended since offset. Truncation
// (log rotation) resets the offset to the new start.
func emitFromOffset(path string, offset int64, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			offset += int64(len(line))
			emit(line[:len(line)-1])
			continue
		}
		if errors.Is(err, io.EOF) {
			// Partial trailing line: leave it for the next poll.
			return offset, nil
		}
		return offset, fmt.Errorf("read log file: %w", err)
	}
}
