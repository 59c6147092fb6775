// Package syncer drains the outbox queues against the remote API when
// connectivity returns, and performs offline-first writes.
package syncer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nark2019/careerforgeai-sub001/internal/storage"
)

// Tag names the queue a connectivity signal asks to drain.
type Tag string

const (
	TagChatMessages Tag = "sync-chat-messages"
	TagUserData     Tag = "sync-user-data"
)

// Tags lists every known tag.
var Tags = []Tag{TagChatMessages, TagUserData}

var (
	// ErrUnknownTag is returned for tags other than the known ones.
	ErrUnknownTag = errors.New("unknown sync tag")
	// ErrInvalidEntry is returned for entries the remote could never accept.
	ErrInvalidEntry = errors.New("invalid outbox entry")
)

// ParseTag validates a tag coming from outside the process.
func ParseTag(raw string) (Tag, error) {
	tag := Tag(strings.TrimSpace(raw))
	for _, t := range Tags {
		if t == tag {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTag, raw)
}

// Collection returns the queue collection drained for the tag.
func (t Tag) Collection() (storage.CollectionName, error) {
	switch t {
	case TagChatMessages:
		return storage.CollectionChatQueue, nil
	case TagUserData:
		return storage.CollectionUserDataQueue, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTag, string(t))
	}
}

// TagForQueue returns the tag whose drain covers the queue collection.
func TagForQueue(name storage.CollectionName) (Tag, error) {
	for _, t := range Tags {
		if c, _ := t.Collection(); c == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s is not an outbox queue", ErrUnknownTag, name)
}
