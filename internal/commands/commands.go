package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bowerhall/pawd/internal/backend"
	"github.com/bowerhall/pawd/internal/budget"
	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/config"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/memory"
)

// recognized is the closed command vocabulary. Prefixed text outside this
// set falls through to normal conversational handling.
var recognized = map[string]bool{
	"/new":      true,
	"/sessions": true,
	"/resume":   true,
	"/clear":    true,
	"/rename":   true,
	"/status":   true,
	"/delete":   true,
	"/backend":  true,
	"/backends": true,
	"/model":    true,
	"/tools":    true,
	"/help":     true,
}

// cmdRe matches "/cmd" or "!cmd" with an optional @BotName suffix and
// trailing args. The "!" prefix is a fallback for channels that intercept
// "/" client-side.
var cmdRe = regexp.MustCompile(`(?s)^([/!]\w+)(?:@\S+)?\s*(.*)`)

// Handler answers control directives directly against the session and
// settings stores; the agent backend is never involved.
type Handler struct {
	memory   *memory.Store
	settings *config.Settings
	router   *backend.Router
	budget   *budget.Tracker

	onSettingsChanged func()

	mu        sync.Mutex
	lastShown map[string][]memory.SessionInfo // per chat, for /resume <n>
}

func NewHandler(store *memory.Store, settings *config.Settings, router *backend.Router) *Handler {
	return &Handler{
		memory:    store,
		settings:  settings,
		router:    router,
		lastShown: make(map[string][]memory.SessionInfo),
	}
}

// SetBudget attaches the spend tracker so /status can report today's
// token usage.
func (h *Handler) SetBudget(t *budget.Tracker) {
	h.budget = t
}

// SetOnSettingsChanged registers a callback fired after a command mutates
// settings (backend/model/profile switches).
func (h *Handler) SetOnSettingsChanged(fn func()) {
	h.onSettingsChanged = fn
}

func (h *Handler) notifySettingsChanged() {
	if h.onSettingsChanged != nil {
		h.onSettingsChanged()
	}
}

// normalizeCmd rewrites "!cmd" to "/cmd" so the rest of the handler is
// prefix-agnostic.
func normalizeCmd(raw string) string {
	if strings.HasPrefix(raw, "!") {
		return "/" + raw[1:]
	}
	return raw
}

// IsCommand reports whether content is a recognized directive.
func (h *Handler) IsCommand(content string) bool {
	m := cmdRe.FindStringSubmatch(strings.TrimSpace(content))
	return m != nil && recognized[normalizeCmd(strings.ToLower(m[1]))]
}

// Handle executes a directive and returns the response, or nil when the
// content is not a recognized command.
func (h *Handler) Handle(msg bus.InboundMessage) *bus.OutboundMessage {
	m := cmdRe.FindStringSubmatch(strings.TrimSpace(msg.Content))
	if m == nil {
		return nil
	}

	cmd := normalizeCmd(strings.ToLower(m[1]))
	if !recognized[cmd] {
		return nil
	}
	args := strings.TrimSpace(m[2])
	sessionKey := msg.SessionKey()

	logger.Debug("command received", "cmd", cmd, "session", sessionKey)

	switch cmd {
	case "/new":
		return h.cmdNew(msg, sessionKey)
	case "/sessions":
		return h.cmdSessions(msg, sessionKey)
	case "/resume":
		return h.cmdResume(msg, sessionKey, args)
	case "/clear":
		return h.cmdClear(msg, sessionKey)
	case "/rename":
		return h.cmdRename(msg, sessionKey, args)
	case "/status":
		return h.cmdStatus(msg, sessionKey)
	case "/delete":
		return h.cmdDelete(msg, sessionKey)
	case "/backends":
		return h.cmdBackends(msg)
	case "/backend":
		return h.cmdBackend(msg, args)
	case "/model":
		return h.cmdModel(msg, args)
	case "/tools":
		return h.cmdTools(msg, args)
	default:
		return h.cmdHelp(msg)
	}
}

func (h *Handler) reply(msg bus.InboundMessage, content string) *bus.OutboundMessage {
	return &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	}
}

func (h *Handler) cmdNew(msg bus.InboundMessage, sessionKey string) *bus.OutboundMessage {
	newKey := fmt.Sprintf("%s:%s", sessionKey, uuid.New().String()[:8])
	if err := h.memory.SetSessionAlias(sessionKey, newKey); err != nil {
		logger.Error("new session failed", "error", err)
		return h.reply(msg, "Could not start a new session.")
	}
	return h.reply(msg, "Started a new conversation. Previous sessions are preserved - use /sessions to list them.")
}

func (h *Handler) cmdSessions(msg bus.InboundMessage, sessionKey string) *bus.OutboundMessage {
	sessions, err := h.memory.ListSessionsForChat(sessionKey)
	if err != nil {
		logger.Error("list sessions failed", "error", err)
		return h.reply(msg, "Could not list sessions.")
	}

	if len(sessions) == 0 {
		return h.reply(msg, "No sessions found. Start chatting to create one!")
	}

	h.mu.Lock()
	h.lastShown[sessionKey] = sessions
	h.mu.Unlock()

	return h.reply(msg, formatSessionList("**Sessions:**\n", sessions))
}

func formatSessionList(header string, sessions []memory.SessionInfo) string {
	lines := []string{header}
	for i, s := range sessions {
		marker := ""
		if s.IsActive {
			marker = " (active)"
		}
		title := s.Title
		if title == "" {
			title = "New Chat"
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%d msgs)%s", i+1, title, s.MessageCount, marker))
	}
	lines = append(lines, "\nUse /resume <number> to switch.")
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdResume(msg bus.InboundMessage, sessionKey, args string) *bus.OutboundMessage {
	if args == "" {
		return h.cmdSessions(msg, sessionKey)
	}

	if n, err := strconv.Atoi(args); err == nil {
		h.mu.Lock()
		shown := h.lastShown[sessionKey]
		h.mu.Unlock()

		if shown == nil {
			var lerr error
			shown, lerr = h.memory.ListSessionsForChat(sessionKey)
			if lerr != nil || len(shown) == 0 {
				return h.reply(msg, "No sessions found.")
			}
			h.mu.Lock()
			h.lastShown[sessionKey] = shown
			h.mu.Unlock()
		}

		if n < 1 || n > len(shown) {
			return h.reply(msg, fmt.Sprintf("Invalid session number. Choose 1-%d.", len(shown)))
		}

		target := shown[n-1]
		if err := h.memory.SetSessionAlias(sessionKey, target.SessionKey); err != nil {
			return h.reply(msg, "Could not resume session.")
		}
		return h.reply(msg, "Resumed session: "+displayTitle(target))
	}

	// Text search over titles and previews.
	sessions, err := h.memory.ListSessionsForChat(sessionKey)
	if err != nil {
		return h.reply(msg, "Could not list sessions.")
	}

	query := strings.ToLower(args)
	var matches []memory.SessionInfo
	for _, s := range sessions {
		if strings.Contains(strings.ToLower(s.Title), query) || strings.Contains(strings.ToLower(s.Preview), query) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return h.reply(msg, fmt.Sprintf("No sessions matching %q. Use /sessions to see all.", args))
	case 1:
		if err := h.memory.SetSessionAlias(sessionKey, matches[0].SessionKey); err != nil {
			return h.reply(msg, "Could not resume session.")
		}
		return h.reply(msg, "Resumed session: "+displayTitle(matches[0]))
	default:
		h.mu.Lock()
		h.lastShown[sessionKey] = matches
		h.mu.Unlock()
		return h.reply(msg, formatSessionList(fmt.Sprintf("Multiple sessions match %q:\n", args), matches))
	}
}

func displayTitle(s memory.SessionInfo) string {
	if s.Title == "" {
		return "New Chat"
	}
	return s.Title
}

func (h *Handler) cmdClear(msg bus.InboundMessage, sessionKey string) *bus.OutboundMessage {
	resolved, err := h.memory.ResolveSessionKey(sessionKey)
	if err != nil {
		return h.reply(msg, "Could not resolve session.")
	}

	count, err := h.memory.ClearSession(resolved)
	if err != nil {
		return h.reply(msg, "Could not clear session.")
	}
	if count == 0 {
		return h.reply(msg, "Session is already empty.")
	}
	return h.reply(msg, fmt.Sprintf("Cleared %d messages from the current session.", count))
}

func (h *Handler) cmdRename(msg bus.InboundMessage, sessionKey, args string) *bus.OutboundMessage {
	if args == "" {
		return h.reply(msg, "Usage: /rename <new title>")
	}

	resolved, err := h.memory.ResolveSessionKey(sessionKey)
	if err != nil {
		return h.reply(msg, "Could not resolve session.")
	}

	ok, err := h.memory.UpdateSessionTitle(resolved, args)
	if err != nil || !ok {
		return h.reply(msg, "Could not rename - session not found in index.")
	}
	return h.reply(msg, fmt.Sprintf("Session renamed to %q.", args))
}

func (h *Handler) cmdStatus(msg bus.InboundMessage, sessionKey string) *bus.OutboundMessage {
	resolved, _ := h.memory.ResolveSessionKey(sessionKey)
	sessions, _ := h.memory.ListSessionsForChat(sessionKey)

	title := "Default"
	msgCount := 0
	for _, s := range sessions {
		if s.IsActive {
			title = displayTitle(s)
			msgCount = s.MessageCount
			break
		}
	}

	lines := []string{
		"**Session Status:**\n",
		"Title: " + title,
		fmt.Sprintf("Messages: %d", msgCount),
		"Channel: " + msg.Channel,
		"Session key: " + resolved,
		"Backend: " + h.router.CurrentName(),
		"Tool profile: " + h.settings.ToolProfile(),
	}
	if resolved != sessionKey {
		lines = append(lines, "Base key: "+sessionKey)
	}
	if spend := h.spendLine(); spend != "" {
		lines = append(lines, spend)
	}
	lines = append(lines, "", hostStats())

	return h.reply(msg, strings.Join(lines, "\n"))
}

// spendLine summarizes today's token usage, with cost when the
// persistent usage store is attached.
func (h *Handler) spendLine() string {
	if h.budget == nil {
		return ""
	}

	used, limit := h.budget.Usage()
	line := fmt.Sprintf("Tokens today: %d / %d", used, limit)

	if store := h.budget.Store(); store != nil {
		if sum, err := store.Today(); err == nil && sum.TotalRequests > 0 {
			line += fmt.Sprintf(" ($%.4f over %d requests)", sum.TotalCostUSD, sum.TotalRequests)
		}
	}
	return line
}

// hostStats reports CPU, memory, and disk pressure for the host running
// the daemon.
func hostStats() string {
	var parts []string

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		parts = append(parts, fmt.Sprintf("CPU: %.0f%%", percents[0]))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		parts = append(parts, fmt.Sprintf("Mem: %.0f%%", vm.UsedPercent))
	}
	if du, err := disk.Usage("/"); err == nil {
		parts = append(parts, fmt.Sprintf("Disk: %.0f%%", du.UsedPercent))
	}

	if len(parts) == 0 {
		return ""
	}
	return "Host: " + strings.Join(parts, " · ")
}

func (h *Handler) cmdDelete(msg bus.InboundMessage, sessionKey string) *bus.OutboundMessage {
	resolved, err := h.memory.ResolveSessionKey(sessionKey)
	if err != nil {
		return h.reply(msg, "Could not resolve session.")
	}

	deleted, err := h.memory.DeleteSession(resolved)
	if err != nil {
		return h.reply(msg, "Could not delete session.")
	}

	// Drop the alias so the next message starts a fresh default session.
	h.memory.RemoveSessionAlias(sessionKey)

	if !deleted {
		return h.reply(msg, "No session to delete.")
	}
	return h.reply(msg, "Session deleted. Your next message will start a fresh conversation.")
}

func (h *Handler) cmdBackends(msg bus.InboundMessage) *bus.OutboundMessage {
	active := h.router.CurrentName()

	lines := []string{"**Available Backends:**\n"}
	for _, name := range h.router.Names() {
		marker := ""
		if name == active {
			marker = " (active)"
		}
		lines = append(lines, fmt.Sprintf("- `%s`%s", name, marker))
	}
	lines = append(lines, "\nUse /backend <name> to switch.")

	return h.reply(msg, strings.Join(lines, "\n"))
}

func (h *Handler) cmdBackend(msg bus.InboundMessage, args string) *bus.OutboundMessage {
	current := h.router.CurrentName()

	if args == "" {
		model := h.settings.Model(current)
		modelInfo := " (default model)"
		if model != "" {
			modelInfo = fmt.Sprintf(" (model: `%s`)", model)
		}
		return h.reply(msg, fmt.Sprintf("Current backend: **%s**%s", current, modelInfo))
	}

	name := strings.ToLower(strings.TrimSpace(args))
	if !h.router.Has(name) {
		available := make([]string, 0)
		for _, n := range h.router.Names() {
			available = append(available, "`"+n+"`")
		}
		return h.reply(msg, fmt.Sprintf("Unknown backend `%s`. Available: %s", name, strings.Join(available, ", ")))
	}

	if name == current {
		return h.reply(msg, fmt.Sprintf("Already using `%s`.", name))
	}

	if err := h.settings.SetAgentBackend(name); err != nil {
		logger.Error("backend switch failed", "error", err)
		return h.reply(msg, "Could not save backend selection.")
	}
	h.notifySettingsChanged()

	return h.reply(msg, fmt.Sprintf("Switched backend to **%s**.", name))
}

func (h *Handler) cmdModel(msg bus.InboundMessage, args string) *bus.OutboundMessage {
	backendName := h.router.CurrentName()
	current := h.settings.Model(backendName)

	if args == "" {
		display := "default"
		if current != "" {
			display = "`" + current + "`"
		}
		return h.reply(msg, fmt.Sprintf("Current model for `%s`: %s", backendName, display))
	}

	newModel := strings.TrimSpace(args)
	if err := h.settings.SetModel(backendName, newModel); err != nil {
		logger.Error("model switch failed", "error", err)
		return h.reply(msg, "Could not save model selection.")
	}
	h.notifySettingsChanged()

	return h.reply(msg, fmt.Sprintf("Model for `%s` set to **%s**.", backendName, newModel))
}

func (h *Handler) cmdTools(msg bus.InboundMessage, args string) *bus.OutboundMessage {
	profiles := make([]string, 0, len(config.ToolProfiles))
	for _, p := range config.ToolProfiles {
		profiles = append(profiles, "`"+p+"`")
	}

	if args == "" {
		return h.reply(msg, fmt.Sprintf("Current tool profile: **%s**\nAvailable: %s",
			h.settings.ToolProfile(), strings.Join(profiles, ", ")))
	}

	name := strings.ToLower(strings.TrimSpace(args))
	if !config.IsValidToolProfile(name) {
		return h.reply(msg, fmt.Sprintf("Unknown profile `%s`. Available: %s", name, strings.Join(profiles, ", ")))
	}

	if name == h.settings.ToolProfile() {
		return h.reply(msg, fmt.Sprintf("Already using `%s` profile.", name))
	}

	if err := h.settings.SetToolProfile(name); err != nil {
		logger.Error("tool profile switch failed", "error", err)
		return h.reply(msg, "Could not save tool profile.")
	}
	h.notifySettingsChanged()

	return h.reply(msg, fmt.Sprintf("Tool profile switched to **%s**.", name))
}

func (h *Handler) cmdHelp(msg bus.InboundMessage) *bus.OutboundMessage {
	text := "**Pawd Commands:**\n\n" +
		"/new - Start a fresh conversation\n" +
		"/sessions - List your conversation sessions\n" +
		"/resume <n> - Resume session #n from the list\n" +
		"/resume <text> - Search and resume a session by title\n" +
		"/clear - Clear the current session history\n" +
		"/rename <title> - Rename the current session\n" +
		"/status - Show current session info\n" +
		"/delete - Delete the current session\n" +
		"/backend - Show or switch agent backend\n" +
		"/backends - List all available backends\n" +
		"/model - Show or switch model for current backend\n" +
		"/tools - Show or switch tool profile\n" +
		"/help - Show this help message\n\n" +
		"_Tip: Use !command instead of /command on channels where / is intercepted._"
	return h.reply(msg, text)
}
