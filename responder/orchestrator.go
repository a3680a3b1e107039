package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/provider"
	"github.com/hupe1980/meshbridge/router"
	"github.com/hupe1980/meshbridge/tool"
	"github.com/hupe1980/meshbridge/transport"
)

const (
	// maxToolTurns bounds the tool-execution loop per query.
	maxToolTurns = 5

	// sessionWindow and channelWindow size the history handed to a backend.
	// One-off channel queries get a minimal window to bound latency.
	sessionWindow = 30
	channelWindow = 2

	// localQueryBudget is the liveness budget for workers talking to local
	// inference, which may legitimately run for minutes.
	localQueryBudget = 310 * time.Second
)

// environmentKeywords trigger a fresh environment snapshot when present in a
// prompt.
var environmentKeywords = []string{
	"battery", "location", "position", "gps", "where",
	"signal", "snr", "rssi", "telemetry", "temperature",
	"weather", "node", "mesh",
}

// dispatchQuery acknowledges the query and hands it to a worker goroutine.
// The receive path must never block on a backend call.
func (r *Responder) dispatchQuery(query string, msg transport.Message, thinking string) {
	r.sendResponse(thinking, msg, false)
	r.spawn(func() { r.processQuery(query, msg) })
}

// processQuery is the per-query worker: append the labeled user turn, pick
// the strategy for the active backend, run the tool loop and deliver exactly
// one final message.
func (r *Responder) processQuery(query string, msg transport.Message) {
	name := r.deps.Settings.Provider()
	p, ok := r.deps.Providers[name]
	if !ok {
		r.log.Error("selected provider not configured", "provider", name)
		r.sendResponse(fmt.Sprintf("Provider %s is not configured. Contact admin.", name), msg, false)
		return
	}

	workerID := core.NewID()
	if r.deps.Monitor != nil {
		budget := time.Duration(0)
		if name == "ollama" {
			budget = localQueryBudget
		}
		r.deps.Monitor.WorkerStarted(workerID, budget)
		defer r.deps.Monitor.WorkerDone(workerID)
	}

	dm := msg.IsDM()
	key := r.historyKey(msg)
	// Sessions are a DM context. A channel message from a session holder
	// stays channel traffic and must not touch the session.
	sess, inSession := r.deps.Sessions.Active(msg.From)
	if !dm {
		sess, inSession = nil, false
	}

	// Adaptive strategy: awareness off isolates the backend completely;
	// tool-capable backends get the registry and decide themselves; the
	// rest get a one-shot in-band environment block.
	var tools []tool.Definition
	envBlock := ""
	if r.cfg.Awareness {
		if p.SupportsTools() {
			tools = r.deps.Registry.Definitions()
		} else if r.shouldRefreshEnvironment(key, query) {
			envBlock = r.environment(msg.From)
		}
	}

	content := fmt.Sprintf("[Node %s] %s", msg.From, query)
	if envBlock != "" {
		content += "\n" + envBlock
	}
	if err := r.deps.Store.Append(key, core.Entry{Role: core.RoleUser, Content: content}); err != nil {
		r.log.Error("history append failed", "key", key, "error", err)
	}

	window := channelWindow
	if inSession {
		window = sessionWindow
	}
	entries, err := r.deps.Store.Window(key, window)
	if err != nil {
		r.log.Error("history window failed", "key", key, "error", err)
		entries = []core.Entry{{Role: core.RoleUser, Content: content}}
	}

	req := provider.Request{
		System:   r.systemPrompt(key),
		Messages: toProviderMessages(entries),
		Tools:    tools,
	}

	text, err := r.runToolLoop(context.Background(), p, req, workerID)
	if err != nil {
		var perr *core.ProviderError
		if errors.As(err, &perr) {
			text = perr.UserMessage()
		} else {
			text = fmt.Sprintf("Error: %.150v", err)
		}
		r.log.Error("query failed", "provider", name, "error", err)
	}

	if aerr := r.deps.Store.Append(key, core.Entry{Role: core.RoleAssistant, Content: text}); aerr != nil {
		r.log.Error("history append failed", "key", key, "error", aerr)
	}

	// Session turns are archived continuously so an abrupt timeout loses
	// nothing; channel turns feed the shared channel pool.
	if all, herr := r.deps.Store.Entries(key); herr == nil {
		switch {
		case inSession:
			r.archive(msg.From, sess.Name, all)
			r.deps.Sessions.Touch(msg.From)
		case !dm:
			r.archive(msg.From, router.ChannelConversationName(msg.Channel), all)
		}
	}

	r.sendResponse(text, msg, false)
}

// runToolLoop drives the bounded tool-execution loop. Per-call failures are
// serialized back as error results; only backend failures escape.
func (r *Responder) runToolLoop(ctx context.Context, p provider.Provider, req provider.Request, workerID string) (string, error) {
	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := p.GetResponse(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		results := make([]core.ToolCallResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, r.executeWithHeartbeat(ctx, workerID, call))
		}
		req.Messages = append(req.Messages,
			provider.Message{Role: core.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls},
			provider.Message{Role: core.RoleUser, ToolResults: results},
		)
	}
	return fmt.Sprintf("Tool turn budget exceeded (%d turns). Try a simpler question.", maxToolTurns), nil
}

// executeWithHeartbeat runs one tool call while beating the liveness monitor,
// so a legitimately slow tool (telemetry refresh polls for up to ~15s) is not
// misclassified as a hung worker.
func (r *Responder) executeWithHeartbeat(ctx context.Context, workerID string, call core.ToolCallRequest) core.ToolCallResult {
	done := make(chan core.ToolCallResult, 1)
	go func() { done <- r.deps.Registry.Execute(ctx, call) }()
	ticker := time.NewTicker(r.beatEvery)
	defer ticker.Stop()
	for {
		select {
		case result := <-done:
			return result
		case <-ticker.C:
			if r.deps.Monitor != nil {
				r.deps.Monitor.WorkerHeartbeat(workerID)
			}
		}
	}
}

// shouldRefreshEnvironment decides whether the snapshot is recomputed: first
// message in a context, a pending refresh (conversation switch), a trigger
// keyword, or the bot named in the prompt. Anything else reuses nothing and
// injects nothing, keeping latency down.
func (r *Responder) shouldRefreshEnvironment(key, query string) bool {
	r.mu.Lock()
	pending := r.pendingRefresh[key]
	delete(r.pendingRefresh, key)
	r.mu.Unlock()
	if pending {
		return true
	}

	entries, err := r.deps.Store.Entries(key)
	if err == nil && len(entries) == 0 {
		return true
	}

	lower := strings.ToLower(query)
	if r.cfg.BotName != "" && strings.Contains(lower, strings.ToLower(r.cfg.BotName)) {
		return true
	}
	for _, kw := range environmentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// markRefresh forces an environment snapshot on the key's next query.
func (r *Responder) markRefresh(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingRefresh[key] = true
}

// environment builds the in-band context block for backends without tool
// calling.
func (r *Responder) environment(from string) string {
	var b strings.Builder
	b.WriteString("[RADIO CONTEXT]")
	if self := r.deps.Transport.SelfMetadata(); self != "" {
		fmt.Fprintf(&b, "\nSelf: %s", self)
	}
	if caller := r.deps.Transport.NodeMetadata(from); caller != "" {
		fmt.Fprintf(&b, "\nCaller: %s", caller)
	}
	if nodes := r.deps.Transport.NodeListSummary(); nodes != "" {
		fmt.Fprintf(&b, "\nNeighbors: %s", nodes)
	}
	return b.String()
}

func (r *Responder) systemPrompt(contextID string) string {
	return fmt.Sprintf("You are %s, an AI assistant reachable over a low-bandwidth packet radio mesh. "+
		"Keep answers short and in plain text; long replies are split into radio chunks. "+
		"CONTEXT ISOLATION: you are serving conversation %q only; never reference other conversations.",
		r.cfg.BotName, contextID)
}

func (r *Responder) archive(owner, name string, entries []core.Entry) {
	if err := r.deps.Archive.Save(owner, name, entries); err != nil {
		r.log.Error("conversation archive failed", "owner", owner, "name", name, "error", err)
	}
}

func toProviderMessages(entries []core.Entry) []provider.Message {
	msgs := make([]provider.Message, len(entries))
	for i, e := range entries {
		msgs[i] = provider.Message{Role: e.Role, Text: e.Content}
	}
	return msgs
}
