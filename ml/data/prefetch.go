// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

// prefetcher holds the batches assembled ahead by the background goroutine of a BatchStream.
type prefetcher struct {
	batches    chan *Batch
	stop, done chan struct{}
}

// Prefetch makes the stream assemble up to bufferSize batches ahead in a background goroutine, so
// copying the images into tensors overlaps with the training steps. The sequence of batches is the
// same as without prefetching.
//
// The goroutine only assembles the batches of the current pass: new passes, and their shuffling,
// are always started by Next or Reset.
//
// A bufferSize <= 0 disables prefetching. Call Close to stop the goroutine when the stream is no
// longer used. It returns the stream itself, for chaining.
func (s *BatchStream) Prefetch(bufferSize int) *BatchStream {
	s.stopPrefetch()
	if bufferSize <= 0 {
		return s
	}
	p := &prefetcher{
		batches: make(chan *Batch, bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer close(p.batches)
		for s.position < len(s.perm) {
			batch := s.assemble()
			select {
			case p.batches <- batch:
			case <-p.stop:
				batch.Finalize()
				return
			}
		}
	}()
	s.prefetch = p
	return s
}

// stopPrefetch stops the background goroutine and frees the batches assembled that were not used.
// The position of the stream moves past the discarded batches.
func (s *BatchStream) stopPrefetch() {
	p := s.prefetch
	if p == nil {
		return
	}
	s.prefetch = nil
	close(p.stop)
	<-p.done
	for len(p.batches) > 0 {
		(<-p.batches).Finalize()
	}
}

// Close stops prefetching, if enabled. The stream can still be used afterwards, without prefetching.
func (s *BatchStream) Close() {
	s.stopPrefetch()
}
