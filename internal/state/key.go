package state

import (
	"fmt"
	"strconv"
	"strings"
)

const keySeparator = ":"

// Key identifies one FSM session: the bot instance, the chat and the user.
type Key struct {
	BotID  int64
	ChatID int64
	UserID int64
}

// String renders the key as "<bot>:<chat>:<user>". The decimal form of an
// int64 never contains the separator, so distinct keys never collide.
func (k Key) String() string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(strconv.FormatInt(k.BotID, 10))
	b.WriteString(keySeparator)
	b.WriteString(strconv.FormatInt(k.ChatID, 10))
	b.WriteString(keySeparator)
	b.WriteString(strconv.FormatInt(k.UserID, 10))
	return b.String()
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	segments := strings.Split(s, keySeparator)
	if len(segments) != 3 {
		return Key{}, fmt.Errorf("invalid key format: %q", s)
	}

	ids := make([]int64, len(segments))
	for i, segment := range segments {
		id, err := strconv.ParseInt(segment, 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("invalid key segment %q: %w", segment, err)
		}
		ids[i] = id
	}

	return Key{BotID: ids[0], ChatID: ids[1], UserID: ids[2]}, nil
}
