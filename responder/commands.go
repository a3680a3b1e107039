package responder

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/meshbridge/conversation"
	"github.com/hupe1980/meshbridge/router"
	"github.com/hupe1980/meshbridge/transport"
)

// handleCommand routes one !ai invocation.
func (r *Responder) handleCommand(text string, msg transport.Message) {
	parts := strings.SplitN(text, " ", 3)
	if len(parts) < 2 {
		return
	}
	cmd := strings.ToLower(parts[1])
	args := ""
	if len(parts) == 3 {
		args = strings.TrimSpace(parts[2])
	}
	dm := msg.IsDM()

	switch cmd {
	case "-h":
		// Paced multi-message delivery must not hold up the receive path.
		admin := r.deps.Settings.IsAdmin(msg.From)
		r.spawn(func() { r.sendHelp(msg, dm, admin) })
	case "-m":
		r.sendMemoryStatus(msg)
	case "-n":
		r.handleNew(args, msg, dm)
	case "-end":
		r.handleEnd(msg, dm)
	case "-c":
		r.handleConversation(args, msg, dm)
	case "-p", "-ch", "-a":
		if !r.deps.Settings.IsAdmin(msg.From) {
			r.sendResponse("⛔ Unauthorized: Admin only.", msg, true)
			return
		}
		if !dm {
			r.sendResponse("⚙️ Admin commands are DM only. Please send this command in a direct message.", msg, true)
			return
		}
		switch cmd {
		case "-p":
			r.handleProvider(args, msg)
		case "-ch":
			r.handleChannels(args, msg)
		case "-a":
			r.handleAdmins(args, msg)
		}
	default:
		query := strings.TrimSpace(strings.Join(parts[1:], " "))
		if query != "" {
			r.dispatchQuery(query, msg, "Thinking... \U0001F916")
		}
	}
}

// sendHelp emits the context-aware help as several paced messages so the
// radio keeps up.
func (r *Responder) sendHelp(msg transport.Message, dm, admin bool) {
	r.sendResponse("\U0001F916 AI Bridge - Basic Commands\n\n"+
		"!ai <query> : Ask the AI a question\n"+
		"!ai -m : Show memory & slot usage\n"+
		"!ai -h : Show this help", msg, false)
	wait := 5 * time.Second
	if dm {
		wait = 2 * time.Second
	}
	r.pace(wait)

	if dm {
		timeout := r.deps.Sessions.Timeout().Round(time.Minute)
		r.sendResponse(fmt.Sprintf("\U0001F7E2 Session Commands (DM Only)\n\n"+
			"!ai -n [name] : Start new session\n"+
			"  auto-names if no name given\n"+
			"  no !ai prefix needed in session\n"+
			"  %s timeout\n"+
			"!ai -end : End current session", timeout), msg, false)
		r.pace(2 * time.Second)
		r.sendResponse("\U0001F4DA Conversations\n"+
			"!ai -c : Resume last\n"+
			"!ai -c <id> : Load specific\n"+
			"!ai -c ls : List saved\n"+
			"!ai -c rm <id> : Delete\n"+
			"In Channels:\n"+
			"!ai -n <msg> : New topic", msg, false)
	} else {
		r.sendResponse("\U0001F4DA Conversation Commands\n\n"+
			"!ai -n <query> : Start new topic\n"+
			"!ai -c : Recall your last topic\n"+
			"(DM for advanced management)", msg, false)
	}

	if admin {
		r.pace(2 * time.Second)
		if dm {
			r.sendResponse("⚙️ Admin (DM Only)\n"+
				"!ai -p [name] : Provider\n"+
				"!ai -ch [add/rm <n>] : Channels\n"+
				"!ai -a [add/rm <id>] : Admins", msg, false)
		} else {
			r.sendResponse("⚙️ Admin Note\n\nSend !ai -h in DM for admin commands.", msg, false)
		}
	}
}

// sendMemoryStatus reports the caller's context footprint and slot usage.
func (r *Responder) sendMemoryStatus(msg transport.Message) {
	stats, err := r.deps.Store.Stats(r.historyKey(msg))
	if err != nil {
		r.log.Error("memory status failed", "error", err)
		r.sendResponse("Error reading memory status.", msg, false)
		return
	}
	used, err := r.deps.Archive.SlotUsage(msg.From)
	if err != nil {
		r.log.Error("slot usage failed", "error", err)
	}
	r.sendResponse(fmt.Sprintf("\U0001F4BE Memory Status\n"+
		"Messages: %d/%d\n"+
		"Size: %.1fKB/%.0fKB\n"+
		"Slots: %d/%d\n"+
		"Provider: %s",
		stats.Messages, stats.MaxMessages,
		float64(stats.Bytes)/1024, float64(stats.MaxBytes)/1024,
		used, r.deps.Archive.MaxSlots(),
		strings.ToUpper(r.deps.Settings.Provider())), msg, false)
}

// handleNew starts a session in DM context. In a channel it starts a fresh
// topic instead: clear the channel history and optionally answer the query.
func (r *Responder) handleNew(args string, msg transport.Message, dm bool) {
	if dm {
		s := r.deps.Sessions.Start(msg.From, args, msg.Channel, msg.From)
		r.markRefresh(router.SessionKey(msg.From, s.Name))
		r.sendResponse(fmt.Sprintf("\U0001F7E2 Session '%s' started (%s timeout). No !ai prefix needed. End with !ai -end.",
			s.Name, r.deps.Sessions.Timeout().Round(time.Minute)), msg, false)
		return
	}
	key := r.historyKey(msg)
	if err := r.deps.Store.Clear(key); err != nil {
		r.log.Error("clear channel history failed", "key", key, "error", err)
	}
	r.markRefresh(key)
	if args != "" {
		r.dispatchQuery(args, msg, "Thinking (New Conversation)... \U0001F916")
	}
}

func (r *Responder) handleEnd(msg transport.Message, dm bool) {
	if !dm {
		r.sendResponse("⚠️ Sessions are DM-only. Use !ai -n in channels to clear history.", msg, false)
		return
	}
	s, ok := r.deps.Sessions.End(msg.From)
	if !ok {
		r.sendResponse("No active session.", msg, false)
		return
	}
	r.sendResponse(fmt.Sprintf("\U0001F534 Session '%s' ended.", s.Name), msg, false)
}

// handleConversation implements -c: resume last, load by name/slot, list and
// delete.
func (r *Responder) handleConversation(args string, msg transport.Message, dm bool) {
	switch {
	case args == "":
		infos, err := r.deps.Archive.List(msg.From)
		if err != nil || len(infos) == 0 {
			r.sendResponse("No saved conversations found.", msg, false)
			return
		}
		latest := infos[0]
		for _, info := range infos[1:] {
			if info.LastAccess.After(latest.LastAccess) {
				latest = info
			}
		}
		r.loadConversation(latest.Name, msg, dm)
	case strings.EqualFold(args, "ls"):
		r.sendConversationList(msg)
	case strings.EqualFold(args, "rm"):
		r.sendResponse("Usage: !ai -c rm <name/slot>", msg, false)
	case strings.HasPrefix(strings.ToLower(args), "rm "):
		ref := strings.TrimSpace(args[3:])
		name, err := r.deps.Archive.Delete(msg.From, ref)
		if err != nil {
			r.sendResponse(fmt.Sprintf("Could not delete '%s'.", ref), msg, false)
			return
		}
		r.sendResponse(fmt.Sprintf("✅ Deleted '%s'.", name), msg, false)
	default:
		r.loadConversation(args, msg, dm)
	}
}

// loadConversation restores a saved conversation into the ambient history.
// In DM context a session under the conversation's name is started so the
// user can continue without the prefix.
func (r *Responder) loadConversation(ref string, msg transport.Message, dm bool) {
	entries, name, err := r.deps.Archive.Load(msg.From, ref)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			r.sendResponse(fmt.Sprintf("Conversation '%s' not found.", ref), msg, false)
		} else {
			r.log.Error("conversation load failed", "ref", ref, "error", err)
			r.sendResponse("Error loading conversation.", msg, false)
		}
		return
	}
	reply := fmt.Sprintf("\U0001F4DA Loaded '%s' (%d messages).", name, len(entries))
	var key string
	if dm {
		r.deps.Sessions.Start(msg.From, name, msg.Channel, msg.From)
		key = router.SessionKey(msg.From, name)
		reply += "\n\U0001F7E2 Session Started"
	} else {
		key = r.historyKey(msg)
	}
	if err := r.deps.Store.Replace(key, entries); err != nil {
		r.log.Error("history restore failed", "key", key, "error", err)
	}
	r.markRefresh(key)
	r.sendResponse(reply, msg, false)
}

func (r *Responder) sendConversationList(msg transport.Message) {
	infos, err := r.deps.Archive.List(msg.From)
	if err != nil {
		r.log.Error("conversation list failed", "error", err)
		r.sendResponse("Error listing conversations.", msg, false)
		return
	}
	if len(infos) == 0 {
		r.sendResponse("No saved conversations.", msg, false)
		return
	}
	var b strings.Builder
	b.WriteString("\U0001F4DA Saved Conversations:")
	for _, info := range infos {
		fmt.Fprintf(&b, "\n%d. %s", info.Slot, info.Name)
	}
	r.sendResponse(b.String(), msg, false)
}

// handleProvider lists or switches the active backend.
func (r *Responder) handleProvider(args string, msg transport.Message) {
	if args == "" {
		current := r.deps.Settings.Provider()
		names := make([]string, 0, len(r.deps.Providers))
		for name := range r.deps.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		var b strings.Builder
		b.WriteString("\U0001F916 AI Providers:")
		for _, name := range names {
			marker := "❌"
			if name == current {
				marker = "✅"
			}
			fmt.Fprintf(&b, "\n%s %s", marker, name)
		}
		r.sendResponse(b.String(), msg, true)
		return
	}

	name := strings.ToLower(args)
	if name == "local" {
		name = "ollama"
	}
	if _, ok := r.deps.Providers[name]; !ok {
		names := make([]string, 0, len(r.deps.Providers))
		for n := range r.deps.Providers {
			names = append(names, n)
		}
		sort.Strings(names)
		r.sendResponse(fmt.Sprintf("Invalid provider. Choose: %s", strings.Join(names, ", ")), msg, true)
		return
	}
	if err := r.deps.Settings.SetProvider(name); err != nil {
		r.log.Error("provider switch persist failed", "error", err)
	}
	label := "ONLINE"
	if name == "ollama" {
		label = "LOCAL"
	}
	r.sendResponse(fmt.Sprintf("✅ Switched to %s (%s)", label, name), msg, true)
}

// handleChannels manages the public channel allow list.
func (r *Responder) handleChannels(args string, msg transport.Message) {
	if args == "" {
		allowed := r.deps.Settings.AllowedChannels()
		strs := make([]string, len(allowed))
		for i, ch := range allowed {
			strs[i] = strconv.Itoa(ch)
		}
		r.sendResponse("\U0001F4E1 Allowed Channels: "+strings.Join(strs, ", "), msg, true)
		return
	}
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		r.sendResponse("Usage: !ai -ch add/rm <channel_id>", msg, true)
		return
	}
	channel, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		r.sendResponse("Channel ID must be a number", msg, true)
		return
	}
	switch strings.ToLower(parts[0]) {
	case "add":
		if err := r.deps.Settings.AddChannel(channel); err != nil {
			r.log.Error("channel add persist failed", "error", err)
		}
		r.sendResponse(fmt.Sprintf("✅ Added channel %d", channel), msg, true)
	case "rm":
		if err := r.deps.Settings.RemoveChannel(channel); err != nil {
			r.log.Error("channel remove persist failed", "error", err)
		}
		r.sendResponse(fmt.Sprintf("✅ Removed channel %d", channel), msg, true)
	default:
		r.sendResponse("Usage: !ai -ch add/rm <channel_id>", msg, true)
	}
}

// handleAdmins manages the admin node list.
func (r *Responder) handleAdmins(args string, msg transport.Message) {
	if args == "" {
		admins := r.deps.Settings.Admins()
		if len(admins) == 0 {
			r.sendResponse("No admin nodes configured", msg, true)
			return
		}
		r.sendResponse("\U0001F451 Admin Nodes:\n"+strings.Join(admins, "\n"), msg, true)
		return
	}
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		r.sendResponse("Usage: !ai -a add/rm <node_id>", msg, true)
		return
	}
	nodeID := strings.TrimSpace(parts[1])
	switch strings.ToLower(parts[0]) {
	case "add":
		if err := r.deps.Settings.AddAdmin(nodeID); err != nil {
			r.log.Error("admin add persist failed", "error", err)
		}
		r.sendResponse(fmt.Sprintf("✅ Added admin %s", nodeID), msg, true)
	case "rm":
		if err := r.deps.Settings.RemoveAdmin(nodeID); err != nil {
			r.log.Error("admin remove persist failed", "error", err)
		}
		r.sendResponse(fmt.Sprintf("✅ Removed admin %s", nodeID), msg, true)
	default:
		r.sendResponse("Usage: !ai -a add/rm <node_id>", msg, true)
	}
}
