package router

import (
	"fmt"

	"github.com/hupe1980/meshbridge/internal/util"
)

// HistoryKey resolves the isolation key for one exchange, in priority order:
// the sender's active named session (DM only), the plain DM key, then the
// composite channel+sender key.
func (m *Manager) HistoryKey(sender string, channel int, dm bool) string {
	if dm {
		if s, ok := m.Active(sender); ok {
			return SessionKey(sender, s.Name)
		}
		return util.SanitizeKey(sender)
	}
	return fmt.Sprintf("%s_ch%d", util.SanitizeKey(sender), channel)
}

// SessionKey is the history key of a named session, distinct from the plain
// DM key of the same sender.
func SessionKey(sender, name string) string {
	return util.SanitizeKey(sender) + "_s_" + util.SanitizeKey(name)
}

// ChannelConversationName is the named-conversation identifier backing a
// channel context. Names with this prefix live in the unbounded channel pool
// and never count against user slots.
func ChannelConversationName(channel int) string {
	return fmt.Sprintf("channel_%d", channel)
}
