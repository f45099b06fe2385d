package tincan

import "strings"

// KeySeparator joins namespace and name segments into store keys.
const KeySeparator = ":"

// Key segment constants (avoid typos/allocs)
const (
	segReceivers = "receivers"
	segMessages  = "messages"
	segFailures  = "failures"
)

// Key joins a namespace and any number of segments with KeySeparator.
func Key(namespace string, segments ...string) string {
	var b strings.Builder
	n := len(namespace)
	for _, s := range segments {
		n += len(KeySeparator) + len(s)
	}
	b.Grow(n)
	b.WriteString(namespace)
	for _, s := range segments {
		b.WriteString(KeySeparator)
		b.WriteString(s)
	}
	return b.String()
}

// ReceiversKey is the set of client names subscribed to channel.
// Format: {ns}:{channel}:receivers
func ReceiversKey(namespace, channel string) string {
	return Key(namespace, channel, segReceivers)
}

// MessageKey is the primary location of a message body.
// Format: {ns}:{channel}:messages:{id}
func MessageKey(namespace, channel, id string) string {
	return Key(namespace, channel, segMessages, id)
}

// MessageListKey is a client's private list of message ids for channel.
// Format: {ns}:{channel}:{client}:messages
func MessageListKey(namespace, channel, client string) string {
	return Key(namespace, channel, client, segMessages)
}

// FailureListKey is a client's private retry list for channel.
// Format: {ns}:{channel}:{client}:failures
func FailureListKey(namespace, channel, client string) string {
	return Key(namespace, channel, client, segFailures)
}

// validName reports whether s can be used as a single key segment.
func validName(s string) bool {
	return s != "" && !strings.Contains(s, KeySeparator)
}
