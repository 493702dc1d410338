// Package archive reads mailing list threads from the lists.apache.org
// archive service.
package archive

import (
	"context"
	"strings"
)

// Message is one email in an archived thread.
type Message struct {
	// MID is the archive's opaque message id.
	MID string `json:"mid"`

	// FromRaw is the unparsed From header.
	FromRaw string `json:"from_raw"`

	// ListRaw is the list id, e.g. "<dev.tooling.apache.org>".
	ListRaw string `json:"list_raw"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Epoch is the delivery time as a unix timestamp.
	Epoch int64 `json:"epoch"`

	// Date is the delivery time in ISO 8601 form.
	Date string `json:"date"`
}

// WalkFunc receives thread messages in archive delivery order. Returning
// false stops the walk early.
type WalkFunc func(msg Message) (bool, error)

// Client reads archived threads. The message sequence is lazy, finite and
// ordered by delivery time; callers must tolerate empty threads.
type Client interface {
	// Messages walks the messages of a thread in delivery order.
	Messages(ctx context.Context, threadID string, fn WalkFunc) error

	// ThreadDetails returns the thread's list address and the message id
	// of its first message.
	ThreadDetails(ctx context.Context, threadID string) (listAddress, firstMID string, err error)
}

// ThreadURL returns the public archive URL of a thread.
func ThreadURL(baseURL, threadID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/thread/" + threadID
}

// ThreadIDFromURL extracts the thread id from an archive URL, which is its
// last path segment.
func ThreadIDFromURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

// CommitteeLabelFromList derives the committee label from a raw list id.
// "<dev.tooling.apache.org>" becomes "tooling".
func CommitteeLabelFromList(listRaw string) string {
	label := strings.Trim(listRaw, "<>")
	label, _, _ = strings.Cut(label, ".apache.org")
	if _, after, found := strings.Cut(label, "."); found {
		return after
	}
	return label
}

// ListAddressFromList converts a raw list id to a posting address.
// "<dev.tooling.apache.org>" becomes "dev@tooling.apache.org".
func ListAddressFromList(listRaw string) string {
	addr := strings.Trim(listRaw, "<>")
	if before, after, found := strings.Cut(addr, "."); found {
		return before + "@" + after
	}
	return addr
}
