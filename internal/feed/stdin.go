package feed

import (
	"bufio"
	"io"
	"os"
	"sync"
)

// StdinSource reads newline-delimited JSON events from standard input.
// Intended for piping a hardware driver process straight into this one.
type StdinSource struct {
	reader io.Reader
	in     *ingest

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewStdinSource creates a feed source reading from standard input.
func NewStdinSource(bus Publisher) *StdinSource {
	return &StdinSource{
		reader: os.Stdin,
		in:     newIngest(bus, "stdin-feed", getLoggerSafe("stdin-feed")),
		stopCh: make(chan struct{}),
	}
}

// Start begins reading events. The source stops on EOF or Stop.
func (s *StdinSource) Start() error {
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop ends the reader. The underlying stream is closed to unblock a
// pending read; for standard input that is acceptable at shutdown.
func (s *StdinSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if closer, ok := s.reader.(io.Closer); ok {
			_ = closer.Close()
		}
	})
	s.wg.Wait()
}

// Stats returns a snapshot of source activity counters.
func (s *StdinSource) Stats() Stats {
	return s.in.stats()
}

func (s *StdinSource) run() {
	defer s.wg.Done()

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.in.line(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		s.in.logger.Debug("stdin feed read error", "error", err)
	}
	s.in.logger.Info("stdin feed ended")
}
