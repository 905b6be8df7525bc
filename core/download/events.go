package download

import "github.com/BeanGreen247/xylonic-sub000/model"

// EventType 管道事件类型
type EventType string

const (
	EventQueueUpdated      EventType = "queue-updated"
	EventDownloadStarted   EventType = "download-started"
	EventDownloadProgress  EventType = "download-progress"
	EventDownloadCompleted EventType = "download-completed"
	EventDownloadFailed    EventType = "download-failed"
	EventQueuePaused       EventType = "queue-paused"
	EventQueueResumed      EventType = "queue-resumed"
	EventCacheUpdated      EventType = "cache-updated"
)

// Event 推送给订阅者的事件，每个事件都携带完整进度快照
type Event struct {
	Type     EventType                `json:"type"`
	Item     *model.DownloadQueueItem `json:"item,omitempty"`
	Snapshot model.DownloadProgress   `json:"snapshot"`
}
