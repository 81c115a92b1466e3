package logcollection

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher-go/pkg/logging"
)

const (
	DefaultTailLines = 50

	// MaxLineBytes caps a kept line; the rest of an overlong line is read and dropped
	MaxLineBytes = 16 * 1024

	readBufferSize  = 4096
	truncatedSuffix = " [truncated]"
)

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// LogLine is one captured line of backend output
type LogLine struct {
	Timestamp time.Time
	Stream    StreamType
	Line      string
}

// CollectorStatus is a snapshot of collection counters
type CollectorStatus struct {
	ProcessID      string
	Active         bool
	LinesProcessed int64
	BytesProcessed int64
	LastActivity   time.Time
}

// Collector forwards backend output into the launcher log and keeps the
// most recent lines for diagnostics
type Collector struct {
	processID string
	logger    logging.Logger
	tail      *lineRing

	mu             sync.Mutex
	activeStreams  int
	linesProcessed int64
	bytesProcessed int64
	lastActivity   time.Time

	wg sync.WaitGroup
}

func NewCollector(processID string, tailLines int, logger logging.Logger) *Collector {
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	return &Collector{
		processID: processID,
		logger:    logger,
		tail:      newLineRing(tailLines),
	}
}

// CollectFromStream reads stream line by line in the background until EOF
func (c *Collector) CollectFromStream(stream io.Reader, streamType StreamType) {
	if stream == nil {
		return
	}

	c.mu.Lock()
	c.activeStreams++
	c.mu.Unlock()

	c.wg.Add(1)
	go c.streamReader(stream, streamType)
}

// Wait blocks until every collected stream has reached EOF
func (c *Collector) Wait() {
	c.wg.Wait()
}

// Tail returns the most recent lines, oldest first
func (c *Collector) Tail() []LogLine {
	return c.tail.snapshot()
}

func (c *Collector) Status() CollectorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CollectorStatus{
		ProcessID:      c.processID,
		Active:         c.activeStreams > 0,
		LinesProcessed: c.linesProcessed,
		BytesProcessed: c.bytesProcessed,
		LastActivity:   c.lastActivity,
	}
}

func (c *Collector) streamReader(stream io.Reader, streamType StreamType) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.activeStreams--
		c.mu.Unlock()
	}()

	reader := bufio.NewReaderSize(stream, readBufferSize)
	var line []byte
	truncated := false
	for {
		fragment, isPrefix, err := reader.ReadLine()
		if len(fragment) > 0 && !truncated {
			room := MaxLineBytes - len(line)
			if len(fragment) > room {
				fragment = fragment[:room]
				truncated = true
			}
			line = append(line, fragment...)
		}
		if err != nil {
			if len(line) > 0 {
				c.processLogLine(c.finishLine(line, truncated), streamType)
			}
			// Reading from a pipe whose child was killed ends with "file already closed"; not worth a warning.
			if err != io.EOF {
				c.logger.Debugf("Stream reading ended, process: %s, stream: %s, error: %v", c.processID, streamType, err)
			}
			break
		}
		if isPrefix {
			continue
		}
		c.processLogLine(c.finishLine(line, truncated), streamType)
		line = line[:0]
		truncated = false
	}

	// The writer side must never block, or the backend stalls on its next write.
	_, _ = io.Copy(io.Discard, stream)
}

func (c *Collector) finishLine(line []byte, truncated bool) string {
	if truncated {
		return string(line) + truncatedSuffix
	}
	return string(line)
}

func (c *Collector) processLogLine(line string, streamType StreamType) {
	now := time.Now()

	c.mu.Lock()
	c.linesProcessed++
	c.bytesProcessed += int64(len(line))
	c.lastActivity = now
	c.mu.Unlock()

	c.tail.add(LogLine{Timestamp: now, Stream: streamType, Line: line})
	c.logger.Debugf("[%s %s] %s", c.processID, streamType, line)
}

// lineRing is a fixed-capacity ring of log lines
type lineRing struct {
	mu    sync.RWMutex
	lines []LogLine
	next  int
	full  bool
}

func newLineRing(size int) *lineRing {
	return &lineRing{lines: make([]LogLine, size)}
}

func (r *lineRing) add(line LogLine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *lineRing) snapshot() []LogLine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		result := make([]LogLine, r.next)
		copy(result, r.lines[:r.next])
		return result
	}

	result := make([]LogLine, 0, len(r.lines))
	result = append(result, r.lines[r.next:]...)
	result = append(result, r.lines[:r.next]...)
	return result
}
