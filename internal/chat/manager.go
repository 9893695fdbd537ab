package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/saharix/chatline/internal/proto"
)

// ErrNoChatSelected is returned by Send and Timeline when no chat is active.
var ErrNoChatSelected = errors.New("chat: no chat selected")

// Signaler is the slice of the signaling client the chat manager needs.
type Signaler interface {
	Emit(event string, payload any) error
	On(event string, fn func(data json.RawMessage)) (cancel func())
}

// History fetches persisted messages from the REST collaborator.
type History interface {
	Messages(ctx context.Context, chatID string) ([]Message, error)
}

// Store is the local message cache. It seeds a timeline before the history
// fetch returns and keeps working when the fetch fails.
type Store interface {
	SaveMessage(msg Message) error
	MessagesByChat(chatID string) ([]Message, error)
}

// Manager owns the selected chat's timeline and the message send path.
type Manager struct {
	sig      Signaler
	history  History
	store    Store
	composer Composer

	mu       sync.RWMutex
	chatID   string
	timeline *Timeline

	offNewMessage func()

	listenerMu sync.RWMutex
	listeners  map[chan Message]struct{}
}

// NewManager wires the manager to the signaling channel. history and store
// may be nil (no history fetch / no local cache).
func NewManager(sig Signaler, history History, store Store, senderID string) *Manager {
	m := &Manager{
		sig:       sig,
		history:   history,
		store:     store,
		composer:  Composer{SenderID: senderID},
		listeners: make(map[chan Message]struct{}),
	}
	m.offNewMessage = sig.On(proto.EventNewMessage, m.handleNewMessage)
	return m
}

// Select makes chatID the active chat: its timeline is seeded from the
// local cache first, then merged with the server history. Live new_message
// events arriving during the fetch are kept; the merge deduplicates.
func (m *Manager) Select(ctx context.Context, chatID string) error {
	tl := NewTimeline()

	m.mu.Lock()
	m.chatID = chatID
	m.timeline = tl
	m.mu.Unlock()

	if m.store != nil {
		if cached, err := m.store.MessagesByChat(chatID); err != nil {
			log.Printf("CHAT: cache read for %s: %v", chatID, err)
		} else {
			tl.Seed(cached)
		}
	}

	if m.history != nil {
		msgs, err := m.history.Messages(ctx, chatID)
		if err != nil {
			return fmt.Errorf("chat: fetch history for %s: %w", chatID, err)
		}
		tl.Seed(msgs)
		m.cache(msgs)
	}

	log.Printf("CHAT: selected %s (%d messages)", chatID, tl.Len())
	return nil
}

// Deselect discards the active timeline.
func (m *Manager) Deselect() {
	m.mu.Lock()
	m.chatID = ""
	m.timeline = nil
	m.mu.Unlock()
}

// Selected returns the active chat ID, empty when none.
func (m *Manager) Selected() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chatID
}

// Send composes and emits a message on the active chat. Validation and
// read failures abort only this send; the selection is untouched.
func (m *Manager) Send(text, attachmentPath string) error {
	m.mu.RLock()
	chatID := m.chatID
	m.mu.RUnlock()
	if chatID == "" {
		return ErrNoChatSelected
	}

	payload, err := m.composer.Compose(chatID, text, attachmentPath)
	if err != nil {
		return err
	}
	return m.sig.Emit(proto.EventSendMessage, payload)
}

// Timeline returns a snapshot of the active chat's messages.
func (m *Manager) Timeline() ([]Message, error) {
	m.mu.RLock()
	tl := m.timeline
	m.mu.RUnlock()
	if tl == nil {
		return nil, ErrNoChatSelected
	}
	return tl.Snapshot(), nil
}

// Subscribe returns a channel receiving messages appended to the active
// chat's timeline.
func (m *Manager) Subscribe() <-chan Message {
	ch := make(chan Message, 16)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (m *Manager) Unsubscribe(ch <-chan Message) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	for listener := range m.listeners {
		if listener == ch {
			close(listener)
			delete(m.listeners, listener)
			return
		}
	}
}

// Close deregisters the signaling handler and closes all listeners.
func (m *Manager) Close() {
	if m.offNewMessage != nil {
		m.offNewMessage()
	}
	m.listenerMu.Lock()
	for ch := range m.listeners {
		close(ch)
	}
	m.listeners = make(map[chan Message]struct{})
	m.listenerMu.Unlock()
}

// handleNewMessage is the inbound new_message path: cache every confirmed
// message, append those for the active chat, and notify listeners.
func (m *Manager) handleNewMessage(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("CHAT: bad new_message payload: %v", err)
		return
	}
	if !msg.HasBody() {
		log.Printf("CHAT: dropping bodyless message %s", msg.ID)
		return
	}

	m.cache([]Message{msg})

	m.mu.RLock()
	tl := m.timeline
	selected := m.chatID
	m.mu.RUnlock()
	if tl == nil || msg.ChatID != selected {
		return
	}
	if !tl.Append(msg) {
		return // duplicate echo
	}

	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- msg:
		default:
			// Listener buffer full, skip.
		}
	}
	m.listenerMu.RUnlock()
}

func (m *Manager) cache(msgs []Message) {
	if m.store == nil {
		return
	}
	for i := range msgs {
		if msgs[i].ID == "" {
			continue
		}
		if err := m.store.SaveMessage(msgs[i]); err != nil {
			log.Printf("CHAT: cache write for %s: %v", msgs[i].ID, err)
		}
	}
}
