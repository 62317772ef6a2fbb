package notify

import (
	"log/slog"
	"sync"
)

type replayTask struct {
	channel string
	sub     *RedisSubscriber
	msg     *Message
}

// Dispatcher hands inbound notifications to a bounded worker pool so the
// transport's delivery goroutine never blocks on mailbox-side work. When the
// queue is full the notification is dropped and counted; delivery across
// nodes is best-effort, so a drop only delays another node's view.
type Dispatcher struct {
	queue chan replayTask
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		queue: make(chan replayTask, queueSize),
		stop:  make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case t := <-d.queue:
			t.sub.replay(t.channel, t.msg)
		}
	}
}

// Enqueue is constant-time and never blocks the caller.
func (d *Dispatcher) Enqueue(channel string, sub *RedisSubscriber, msg *Message) {
	select {
	case d.queue <- replayTask{channel: channel, sub: sub, msg: msg}:
	default:
		Metrics.IncDropped(channel)
		slog.Warn("inbound notification queue full, dropping",
			slog.String("channel", channel),
			slog.String("account_id", msg.AccountID),
			slog.Int("change_id", msg.ChangeID))
	}
}

// Stop halts the workers. Queued tasks that have not started are discarded.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}
