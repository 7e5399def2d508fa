package callkit

import (
	"log/slog"
	"sync"
)

// PlaybackItem is one synthesized speech segment queued for playback.
type PlaybackItem struct {
	Audio  []byte
	Format string
}

// PlaybackSink plays audio segments. Play must not block: it starts playback
// and invokes done exactly once when the segment finishes or fails. Stop
// aborts the in-flight segment; its done callback may still fire and is
// ignored.
type PlaybackSink interface {
	Play(item PlaybackItem, done func(error))
	Stop()
}

// PlaybackQueue serializes synthesized speech into one strictly ordered,
// non-overlapping stream: FIFO, at most one segment in flight, next segment
// started from the completion callback rather than on a timer. Flush models
// barge-in and drops everything, in-flight segment included.
type PlaybackQueue struct {
	sink   PlaybackSink
	logger *slog.Logger

	mu      sync.Mutex
	queue   []PlaybackItem
	playing bool
	epoch   int
}

// NewPlaybackQueue wires a queue to a sink.
func NewPlaybackQueue(sink PlaybackSink, logger *slog.Logger) *PlaybackQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackQueue{sink: sink, logger: logger}
}

// Enqueue appends one segment and starts playback if the sink is idle.
func (q *PlaybackQueue) Enqueue(item PlaybackItem) {
	q.mu.Lock()
	if q.playing {
		q.queue = append(q.queue, item)
		q.mu.Unlock()
		return
	}
	q.playing = true
	epoch := q.epoch
	q.mu.Unlock()

	q.start(item, epoch)
}

// start invokes the sink outside the lock. A Flush from another goroutine
// can land between releasing the lock and the Play call, delivering Stop
// before the segment even starts; re-checking the epoch afterwards halts a
// segment that should never have played.
func (q *PlaybackQueue) start(item PlaybackItem, epoch int) {
	q.sink.Play(item, q.completion(epoch))

	q.mu.Lock()
	flushed := epoch != q.epoch
	q.mu.Unlock()
	if flushed {
		q.sink.Stop()
	}
}

func (q *PlaybackQueue) completion(epoch int) func(error) {
	return func(err error) { q.onDone(epoch, err) }
}

// onDone drains the queue head-first. Completions from a flushed epoch are
// stale and ignored.
func (q *PlaybackQueue) onDone(epoch int, err error) {
	q.mu.Lock()
	if epoch != q.epoch {
		q.mu.Unlock()
		return
	}
	if err != nil {
		// A failed segment is skipped; playback continues with the next.
		q.logger.Debug("playback segment failed", "error", err)
	}
	if len(q.queue) == 0 {
		q.playing = false
		q.mu.Unlock()
		return
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()

	q.start(next, epoch)
}

// Flush drops queued segments and halts the in-flight one. Called
// synchronously from the barge-in path.
func (q *PlaybackQueue) Flush() {
	q.mu.Lock()
	q.epoch++
	q.queue = nil
	wasPlaying := q.playing
	q.playing = false
	q.mu.Unlock()

	if wasPlaying {
		q.sink.Stop()
	}
}

// Len reports the number of queued segments, the in-flight one excluded.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Attach subscribes the queue to a call session: tts_audio events enqueue,
// local user speech flushes (barge-in), and a disconnect flushes so a
// rebuilt pair starts from silence. The returned function detaches.
func (q *PlaybackQueue) Attach(calls *CallsService) func() {
	unsubEvents := calls.OnMessage(func(ev CallEvent) {
		switch ev.Type {
		case EventTTSAudio:
			q.Enqueue(PlaybackItem{Audio: ev.Audio, Format: ev.Format})
		case EventUserSpeech:
			q.Flush()
		}
	})
	unsubStatus := calls.OnStatusChange(func(state ConnectionState) {
		if state == ConnDisconnected {
			q.Flush()
		}
	})
	return func() {
		unsubEvents()
		unsubStatus()
	}
}
