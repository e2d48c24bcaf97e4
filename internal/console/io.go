package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

const keyBufferSize = 32

// ReaderSource turns a byte stream (usually stdin) into commands. Line
// terminators and spaces are skipped.
type ReaderSource struct {
	keys chan byte
}

func NewReaderSource(r io.Reader, logger *zap.Logger) *ReaderSource {
	s := &ReaderSource{keys: make(chan byte, keyBufferSize)}
	go s.read(bufio.NewReader(r), logger)
	return s
}

func (s *ReaderSource) read(r *bufio.Reader, logger *zap.Logger) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err != io.EOF {
				logger.Warn("Console input closed", zap.Error(err))
			}
			return
		}
		switch b {
		case '\r', '\n', ' ', '\t':
			continue
		}
		select {
		case s.keys <- b:
		default:
			// Operator is typing faster than the loop polls, drop
		}
	}
}

func (s *ReaderSource) Poll() (byte, bool) {
	select {
	case b := <-s.keys:
		return b, true
	default:
		return 0, false
	}
}

// WriterSink prefixes each line with the wall-clock time.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "[%s] %s\n", time.Now().Format("15:04:05.000"), line)
}
