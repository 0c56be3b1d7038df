package service

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/utils"
)

const defaultLogCapacity = 500

// LogEntry is one line of the conversation log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	CallID  string    `json:"call_id,omitempty"`
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
}

// ConversationLog records "user:" and "ai:" lines in a bounded ring and
// forwards them to the event emitter.
type ConversationLog struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
	emitter *event.Emitter
	logger  *slog.Logger
}

func NewConversationLog(capacity int, emitter *event.Emitter) *ConversationLog {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &ConversationLog{
		entries: make([]LogEntry, capacity),
		emitter: emitter,
		logger:  utils.GetLogger(),
	}
}

func (l *ConversationLog) User(callID, text string) { l.add(callID, "user", text) }
func (l *ConversationLog) AI(callID, text string)   { l.add(callID, "ai", text) }

func (l *ConversationLog) add(callID, speaker, text string) {
	if l == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	entry := LogEntry{Time: time.Now(), CallID: callID, Speaker: speaker, Text: text}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.logger.Info(speaker+": "+text, "callSid", callID)
	if l.emitter != nil {
		l.emitter.Emit(event.ConversationLogEvent{CallID: callID, Speaker: speaker, Text: text})
	}
}

// Recent returns up to limit entries, oldest first.
func (l *ConversationLog) Recent(limit int) []LogEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []LogEntry
	if l.full {
		ordered = append(ordered, l.entries[l.next:]...)
	}
	ordered = append(ordered, l.entries[:l.next]...)
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
