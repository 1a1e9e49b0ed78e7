package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/linmu3/LifeMirror/internal/schema"
)

const TypeEntryStatus = "entry_status"

// Event 状态广播事件。处理状态变更时 Type 为 entry_status，
// EntryID/Status 有效；其余类型仅携带 Data。
type Event struct {
	Type      string                  `json:"type"`
	Timestamp int64                   `json:"timestamp"`
	EntryID   int64                   `json:"entry_id,omitempty"`
	Status    schema.ProcessingStatus `json:"status,omitempty"`
	Data      map[string]any          `json:"data,omitempty"`
}

// StatusEvent 构造条目状态变更事件
func StatusEvent(entryID int64, status schema.ProcessingStatus) Event {
	return Event{
		Type:    TypeEntryStatus,
		EntryID: entryID,
		Status:  status,
	}
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// 慢消费者直接丢弃，避免阻塞分析工作单元
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}
