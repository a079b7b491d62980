package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

const (
	sinkBufSize  = 32 * 1024
	sinkQueueLen = 512
)

// fanoutWriter decouples event emission from sink IO. Handlers enqueue
// rendered lines and a single goroutine writes them to every sink, so a slow
// file or pipe never stalls an engine pass.
type fanoutWriter struct {
	lines chan []byte
	syncs chan chan error

	mu    sync.Mutex
	sinks []*bufio.Writer
	err   error

	closeOnce sync.Once
	stopped   chan struct{}
}

func newFanoutWriter(writers []io.Writer, bufSize int) *fanoutWriter {
	if bufSize <= 0 {
		bufSize = sinkBufSize
	}
	f := &fanoutWriter{
		lines:   make(chan []byte, sinkQueueLen),
		syncs:   make(chan chan error),
		stopped: make(chan struct{}),
	}
	for _, w := range writers {
		if w == nil {
			continue
		}
		f.sinks = append(f.sinks, bufio.NewWriterSize(w, bufSize))
	}
	go f.run()
	return f
}

func (f *fanoutWriter) run() {
	for {
		select {
		case line, ok := <-f.lines:
			if !ok {
				f.recordErr(f.flushSinks())
				close(f.stopped)
				return
			}
			f.recordErr(f.writeSinks(line))
			// Flush only once the queue drains; bursts stay buffered.
			if len(f.lines) == 0 {
				f.recordErr(f.flushSinks())
			}
		case ack := <-f.syncs:
			ack <- f.flushSinks()
		}
	}
}

// Write copies the line and enqueues it. When the queue is full the caller
// blocks rather than losing the line.
func (f *fanoutWriter) Write(p []byte) error {
	if err := f.sinkErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	f.lines <- append([]byte(nil), p...)
	return nil
}

// Flush blocks until everything enqueued so far reached the sinks.
func (f *fanoutWriter) Flush() error {
	if err := f.sinkErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	f.syncs <- ack
	return <-ack
}

// Close drains the queue, flushes, and reports the first write error seen.
func (f *fanoutWriter) Close() error {
	f.closeOnce.Do(func() { close(f.lines) })
	<-f.stopped
	return f.sinkErr()
}

func (f *fanoutWriter) writeSinks(line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sink := range f.sinks {
		if _, err := sink.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutWriter) flushSinks() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutWriter) sinkErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fanoutWriter) recordErr(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}
