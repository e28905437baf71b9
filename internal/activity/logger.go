package activity

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/model"
)

const writeTimeout = 5 * time.Second

type Options struct {
	BufferSize int
	DropIfFull bool
}

// Logger hands activity entries to a sink on a background worker. Log
// never returns an error: activity logging is best effort and must not
// fail the operation that produced it.
type Logger struct {
	opts      Options
	sink      Sink
	ch        chan *model.ActivityLog
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
	now       func() time.Time

	// mu orders sends against Close: Log sends under the read lock, so
	// no entry reaches the queue after the worker's final drain.
	mu     sync.RWMutex
	closed bool
}

func NewLogger(sink Sink, opts Options) *Logger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	if sink == nil {
		sink = logSink{}
	}
	l := &Logger{
		opts: opts,
		sink: sink,
		ch:   make(chan *model.ActivityLog, opts.BufferSize),
		done: make(chan struct{}),
		now:  time.Now,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.ch:
			l.write(entry)
		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(entry *model.ActivityLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.sink.Write(ctx, entry); err != nil {
		logutil.GetLogger(ctx).Error("write activity failed",
			zap.String("action", entry.Action), zap.Error(err))
	}
}

// Log queues an entry. userID is nil for anonymous activity. Entries
// logged after Close are counted as dropped.
func (l *Logger) Log(ctx context.Context, userID *int64, action string, metadata map[string]interface{}) {
	if l == nil {
		return
	}
	entry := &model.ActivityLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: l.now().Unix(),
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	if l.opts.DropIfFull {
		select {
		case l.ch <- entry:
		default:
			l.dropped.Add(1)
		}
		return
	}
	select {
	case l.ch <- entry:
	case <-ctx.Done():
		l.dropped.Add(1)
	}
}

// Close drains queued entries and closes the sink if it holds resources.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.done)
		l.mu.Unlock()
		l.wg.Wait()
		if closer, ok := l.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logutil.GetLogger(context.Background()).Error("close activity sink failed", zap.Error(err))
			}
		}
	})
}

func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}
