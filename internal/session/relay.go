// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/stream"
)

const (
	tsPacketSize      = 188
	relayChunkSize    = 64 * tsPacketSize
	fillerInterval    = 250 * time.Millisecond
	fillerBurstPacket = 7
)

// fillerPacket is a PID 0x11 section with an empty SDT body padded with
// stuffing. DVR clients keep the connection open on it without rendering
// anything.
var fillerPacket = func() []byte {
	head := []byte{0x47, 0x40, 0x11, 0x10, 0x00, 0x02, 0xb0, 0x0d, 0x00, 0x01, 0xc1, 0x00, 0x00}
	pkt := make([]byte, tsPacketSize)
	copy(pkt, head)
	for i := len(head); i < tsPacketSize; i++ {
		pkt[i] = 0xff
	}
	return pkt
}()

var fillerBurst = bytes.Repeat(fillerPacket, fillerBurstPacket)

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, relayChunkSize)
		return &b
	},
}

type chunk struct {
	buf *[]byte
	n   int
	err error
}

// Relay copies the stream to w until ctx ends or the stream fails. Until the
// blanking deadline (measured from app launch) stream bytes are discarded
// and, if enabled, filler packets are written instead.
func (s *Session) Relay(ctx context.Context, w io.Writer) error {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return ErrNoStream
	}
	if !s.claimStream() {
		return ErrStreamClaimed
	}
	if !s.handle.SetStatus(domain.TunerStreaming) {
		return ErrClosed
	}

	flush := func() {}
	if rw, ok := w.(http.ResponseWriter); ok {
		rc := http.NewResponseController(rw)
		flush = func() { _ = rc.Flush() }
	}

	quit := make(chan struct{})
	defer close(quit)
	chunks := make(chan chunk, 1)
	go pump(st, chunks, quit)

	var (
		blanking <-chan time.Time
		filler   <-chan time.Time
	)
	if wait := time.Until(s.LaunchedAt().Add(s.blanking)); wait > 0 {
		blankTimer := time.NewTimer(wait)
		defer blankTimer.Stop()
		blanking = blankTimer.C
		if s.filler {
			ticker := time.NewTicker(fillerInterval)
			defer ticker.Stop()
			filler = ticker.C
			if _, err := w.Write(fillerBurst); err != nil {
				return err
			}
			flush()
		}
		s.logger.Debug().
			Str(xglog.FieldEvent, "session.blanking").
			Dur("remaining", wait).
			Bool("filler", s.filler).
			Msg("blanking stream start")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			if err := st.Err(); err != nil {
				return err
			}
			return ErrClosed
		case <-blanking:
			blanking = nil
			filler = nil
		case <-filler:
			if _, err := w.Write(fillerBurst); err != nil {
				return err
			}
			flush()
		case c := <-chunks:
			if c.n > 0 && blanking == nil {
				if _, err := w.Write((*c.buf)[:c.n]); err != nil {
					chunkPool.Put(c.buf)
					return err
				}
				flush()
			}
			if c.buf != nil {
				chunkPool.Put(c.buf)
			}
			if c.err != nil {
				if errors.Is(c.err, stream.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return c.err
			}
		}
	}
}

func pump(r io.Reader, out chan<- chunk, quit <-chan struct{}) {
	for {
		buf := chunkPool.Get().(*[]byte)
		n, err := r.Read(*buf)
		select {
		case out <- chunk{buf: buf, n: n, err: err}:
		case <-quit:
			chunkPool.Put(buf)
			return
		}
		if err != nil {
			return
		}
	}
}
