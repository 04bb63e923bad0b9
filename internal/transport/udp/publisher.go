// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	applog "wakeword/internal/log"
	"wakeword/internal/wakeword"
)

// StatsProvider is the slice of the detector the publisher needs.
type StatsProvider interface {
	GetStatistics() wakeword.Statistics
}

// Publisher periodically snapshots the detector's statistics, packs them
// into a fixed binary layout, and sends them through a Sender. It runs in
// its own goroutine between Start and Stop.
type Publisher struct {
	sender   *Sender
	stats    StatsProvider
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum  uint32
	packetBuffer *bytes.Buffer
}

// NewPublisher creates a Publisher. An interval <= 0 defaults to one
// second.
func NewPublisher(interval time.Duration, sender *Sender, stats StatsProvider) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp: sender cannot be nil")
	}
	if stats == nil {
		return nil, fmt.Errorf("udp: stats provider cannot be nil")
	}
	if interval <= 0 {
		interval = time.Second
		applog.Warnf("udp: invalid publish interval, defaulting to %s", interval)
	}

	return &Publisher{
		sender:       sender,
		stats:        stats,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("udp: Start called but publisher already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("udp: statistics publisher started (interval %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the goroutine to exit and waits for it. Idempotent.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("udp: statistics publisher stopped")
	return nil
}

/*
Statistics packet layout (BigEndian), 44 bytes:

	+----------------------+--------+-------+-----------------------------+
	| Field                | Type   | Bytes | Description                 |
	+----------------------+--------+-------+-----------------------------+
	| Sequence Number      | uint32 | 4     | Monotonically increasing    |
	| Timestamp            | int64  | 8     | Nanoseconds since epoch     |
	| Frames Processed     | uint64 | 8     | Total frames seen           |
	| Detections Emitted   | uint64 | 8     | Wake word events fired      |
	| Preprocessing Errors | uint64 | 8     | Dropped/failed frames       |
	| Inference Errors     | uint64 | 8     | Failed model invocations    |
	+----------------------+--------+-------+-----------------------------+
*/
func (p *Publisher) buildAndSendPacket() {
	stats := p.stats.GetStatistics()

	p.sequenceNum++
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, time.Now().UnixNano())
	}
	for _, counter := range []uint64{
		stats.FramesProcessed,
		stats.DetectionsEmitted,
		stats.PreprocessingErrors,
		stats.InferenceErrors,
	} {
		if err == nil {
			err = binary.Write(p.packetBuffer, binary.BigEndian, counter)
		}
	}
	if err != nil {
		applog.Errorf("udp: error packing statistics packet: %v", err)
		return
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		applog.Debugf("udp: send failed: %v", err)
		return
	}
	applog.Debugf("udp: sent statistics packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
}

// Close stops the publisher. The Sender is owned by the caller and is not
// closed here.
func (p *Publisher) Close() error {
	return p.Stop()
}
