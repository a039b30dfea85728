package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/warden/internal/bus"
	"github.com/stellarlinkco/warden/internal/channel"
	"github.com/stellarlinkco/warden/internal/moderation"
	"github.com/stellarlinkco/warden/internal/respond"
	"github.com/stellarlinkco/warden/internal/strikes"
)

const (
	defaultTestAIMessage = "fuck this shit"
	defaultTimeoutReason = "Manual timeout"
	noSubject            = "❌ Reply to the user's message or give their numeric id."
)

// CapsSamples are the lines checked by the testcaps command.
var CapsSamples = []string{
	"THIS IS A TEST MESSAGE",
	"HOLY SHIT THIS IS ANNOYING",
	"WHY ARE YOU SCREAMING LIKE THAT",
	"this is normal text",
	"This Has Some Caps But Not Much",
}

func usage(h *Handler, form string) string {
	return fmt.Sprintf("Usage: %s%s", h.prefix, form)
}

func cmdPing(_ context.Context, h *Handler, msg bus.InboundMessage, _ []string) string {
	latency := int64(0)
	if !msg.Timestamp.IsZero() {
		latency = max(h.now().Sub(msg.Timestamp).Milliseconds(), 0)
	}
	return fmt.Sprintf("🏓 Pong! Latency: %dms\nYour ID: %s", latency, msg.SenderID)
}

func cmdCapsPunish(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	if h.state.Toggles.ToggleCaps() {
		return "🔥 Caps punishment ACTIVATED! 🔥\n⚠️ WARNING: Excessive caps usage will result in harsh warnings and automatic timeouts!"
	}
	return "❌ Caps punishment DEACTIVATED! ❌\nCaps detection is now off. Users can spam caps freely."
}

func cmdCommands(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	p := h.prefix
	var sb strings.Builder
	sb.WriteString("🤖 Available Commands:\n\n")
	sb.WriteString("Everyone can use:\n")
	fmt.Fprintf(&sb, "• %sping - Test bot response and latency\n", p)
	fmt.Fprintf(&sb, "• %scommands - Show this help message\n", p)
	fmt.Fprintf(&sb, "• %stestcaps - Test caps detection system\n\n", p)
	sb.WriteString("Owner only:\n")
	fmt.Fprintf(&sb, "• %scapspunish - Toggle caps punishment on/off\n", p)
	fmt.Fprintf(&sb, "• %ssetai <service> <key> - Set AI API keys\n", p)
	fmt.Fprintf(&sb, "• %stestai [message] - Test AI responses\n", p)
	fmt.Fprintf(&sb, "• %saddword <word> / %sremoveword <word> - Edit the bad word filter\n", p, p)
	fmt.Fprintf(&sb, "• %saddname <name> / %sremovename <name> - Edit protected names\n", p, p)
	fmt.Fprintf(&sb, "• %sstatus - Show detailed bot status\n", p)
	fmt.Fprintf(&sb, "• %stimeout <user> <duration> [reason] - Timeout a user\n", p)
	fmt.Fprintf(&sb, "• %suntimeout <user> - Remove timeout from user\n", p)
	fmt.Fprintf(&sb, "• %sstrikes [user] - View strike records\n", p)
	fmt.Fprintf(&sb, "• %sclearstrikes <user> - Clear user strikes\n", p)
	fmt.Fprintf(&sb, "• %saddweakpoint <user> <weakpoint> - Add user weakpoint\n", p)
	fmt.Fprintf(&sb, "• %sremoveweakpoint <user> <weakpoint> - Remove weakpoint\n", p)
	fmt.Fprintf(&sb, "• %sweakpoints [user] - View user weakpoints\n\n", p)
	sb.WriteString("<user> is the author of the message you reply to, or a numeric user id.")
	return sb.String()
}

func cmdTestCaps(_ context.Context, _ *Handler, _ bus.InboundMessage, _ []string) string {
	return CapsReport(CapsSamples)
}

// CapsReport runs the caps detector over lines and formats the results.
func CapsReport(lines []string) string {
	var sb strings.Builder
	sb.WriteString("Caps Detection Test:")
	for _, line := range lines {
		if moderation.IsCapsAbuse(line) {
			fmt.Fprintf(&sb, "\n🔥 `%s` - CAPS ABUSE", line)
		} else {
			fmt.Fprintf(&sb, "\n✅ `%s` - OK", line)
		}
	}
	return sb.String()
}

func cmdSetAI(_ context.Context, h *Handler, _ bus.InboundMessage, args []string) string {
	if len(args) < 2 {
		return usage(h, "setai <service> <key>")
	}
	supported := func() string {
		var names []string
		for _, g := range h.backends.Generators() {
			if _, ok := g.(respond.Configurable); ok {
				names = append(names, g.Name())
			}
		}
		return "❌ Supported services: " + strings.Join(names, ", ")
	}

	g, ok := h.backends.Generator(args[0])
	if !ok {
		return supported()
	}
	c, ok := g.(respond.Configurable)
	if !ok {
		return supported()
	}
	c.SetAPIKey(strings.Join(args[1:], " "))
	return fmt.Sprintf("✅ %s API key updated!", g.Name())
}

func cmdTestAI(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	text := strings.Join(args, " ")
	if text == "" {
		text = defaultTestAIMessage
	}
	res := h.backends.GenerateResult(ctx, respond.Request{
		Text:    text,
		Mention: msg.SenderMention,
		Context: respond.General,
	})
	source := res.Backend
	if source == "" {
		source = "canned"
	}
	return fmt.Sprintf("AI Test Response (%s): %s", source, res.Text)
}

func (h *Handler) saveLexicon() string {
	if err := h.state.Lexicon.Save(h.lexiconPath); err != nil {
		h.logger.Error("save lexicon failed", zap.String("path", h.lexiconPath), zap.Error(err))
		return "\n⚠️ Could not save the lexicon file; the change is lost on restart."
	}
	return ""
}

func cmdAddWord(_ context.Context, h *Handler, _ bus.InboundMessage, args []string) string {
	if len(args) == 0 {
		return usage(h, "addword <word>")
	}
	word := strings.ToLower(strings.Join(args, " "))
	if !h.state.Lexicon.AddFlagged(word) {
		return fmt.Sprintf("'%s' is already in the list!", word)
	}
	return fmt.Sprintf("✅ Added '%s' to bad words list!", word) + h.saveLexicon()
}

func cmdRemoveWord(_ context.Context, h *Handler, _ bus.InboundMessage, args []string) string {
	if len(args) == 0 {
		return usage(h, "removeword <word>")
	}
	word := strings.ToLower(strings.Join(args, " "))
	if !h.state.Lexicon.RemoveFlagged(word) {
		return fmt.Sprintf("'%s' is not in the list!", word)
	}
	return fmt.Sprintf("✅ Removed '%s' from bad words list!", word) + h.saveLexicon()
}

func cmdAddName(_ context.Context, h *Handler, _ bus.InboundMessage, args []string) string {
	if len(args) == 0 {
		return usage(h, "addname <name>")
	}
	name := strings.ToLower(strings.Join(args, " "))
	if !h.state.Lexicon.AddProtected(name) {
		return fmt.Sprintf("'%s' is already protected!", name)
	}
	return fmt.Sprintf("✅ Added '%s' to protected names!", name) + h.saveLexicon()
}

func cmdRemoveName(_ context.Context, h *Handler, _ bus.InboundMessage, args []string) string {
	if len(args) == 0 {
		return usage(h, "removename <name>")
	}
	name := strings.ToLower(strings.Join(args, " "))
	if !h.state.Lexicon.RemoveProtected(name) {
		return fmt.Sprintf("'%s' is not protected!", name)
	}
	return fmt.Sprintf("✅ Removed '%s' from protected names!", name) + h.saveLexicon()
}

func cmdStatus(_ context.Context, h *Handler, _ bus.InboundMessage, _ []string) string {
	check := func(ok bool) string {
		if ok {
			return "✅"
		}
		return "❌"
	}
	caps := "❌ INACTIVE"
	if h.state.Toggles.CapsEnforcement() {
		caps = "🔥 ACTIVE"
	}
	lex := h.state.Lexicon.Snapshot()
	users, total := h.state.Ledger.Totals()

	var sb strings.Builder
	sb.WriteString("🤖 Warden Status\n")
	bot := "Online ✅"
	if h.info != nil && h.info.BotName() != "" {
		bot = h.info.BotName() + " online ✅"
	}
	fmt.Fprintf(&sb, "├─ Bot: %s\n", bot)
	for _, g := range h.backends.Generators() {
		ready := true
		if c, ok := g.(respond.Configurable); ok {
			ready = c.Configured()
		}
		fmt.Fprintf(&sb, "├─ %s: %s\n", g.Name(), check(ready))
	}
	fmt.Fprintf(&sb, "├─ Caps Punishment: %s\n", caps)
	fmt.Fprintf(&sb, "├─ Lenient Mode: %s\n", check(h.state.Toggles.Lenient()))
	sb.WriteString("├─ Auto-Timeouts: ✅ ENABLED\n")
	fmt.Fprintf(&sb, "├─ Bad Words: %d\n", len(lex.Flagged))
	fmt.Fprintf(&sb, "├─ Protected Names: %d\n", len(lex.Protected))
	fmt.Fprintf(&sb, "├─ Users with Strikes: %d (%d strikes)\n", users, total)
	chats := 0
	if h.info != nil {
		chats = h.info.Chats()
	}
	fmt.Fprintf(&sb, "└─ Chats: %d\n\n", chats)

	sb.WriteString("Timeout Settings:\n")
	fmt.Fprintf(&sb, "├─ Caps (1st offense): %s\n", FormatDuration(h.policy.TimeoutDuration(strikes.Caps, 1)))
	fmt.Fprintf(&sb, "├─ Caps (repeat): %s\n", FormatDuration(h.policy.TimeoutDuration(strikes.Caps, 2)))
	fmt.Fprintf(&sb, "├─ Caps (excessive): %s\n", FormatDuration(h.policy.TimeoutDuration(strikes.Caps, 3)))
	fmt.Fprintf(&sb, "├─ Bad Words (3rd strike): %s\n", FormatDuration(h.policy.TimeoutDuration(strikes.BadWords, 3)))
	fmt.Fprintf(&sb, "└─ Harassment (1st): %s", FormatDuration(h.policy.TimeoutDuration(strikes.Harassment, 1)))
	return sb.String()
}

func cmdTimeout(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, args, ok := resolveUser(msg, args)
	if !ok {
		return noSubject
	}
	if len(args) == 0 {
		return usage(h, "timeout <user> <duration> [reason]")
	}
	dur, ok := ParseDuration(args[0])
	if !ok {
		return "❌ Invalid duration format! Use: 5m, 10m, 1h, etc."
	}
	reason := strings.Join(args[1:], " ")
	if reason == "" {
		reason = defaultTimeoutReason
	}

	err := h.platform.Timeout(ctx, who.target(msg), h.now().Add(dur), reason)
	switch {
	case err == nil:
		return fmt.Sprintf("✅ %s has been timed out for %s!\nReason: %s", who.name, FormatDuration(dur), reason)
	case errors.Is(err, channel.ErrPermissionDenied):
		return fmt.Sprintf("❌ Cannot timeout %s - insufficient permissions!", who.name)
	default:
		h.logger.Error("manual timeout failed", zap.String("target", who.id), zap.Error(err))
		return fmt.Sprintf("❌ Failed to timeout %s - platform error!", who.name)
	}
}

func cmdUntimeout(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, _, ok := resolveUser(msg, args)
	if !ok {
		return noSubject
	}
	err := h.platform.RemoveTimeout(ctx, who.target(msg))
	switch {
	case err == nil:
		return fmt.Sprintf("✅ Timeout removed from %s!", who.name)
	case errors.Is(err, channel.ErrPermissionDenied):
		return fmt.Sprintf("❌ Cannot remove timeout from %s - insufficient permissions!", who.name)
	default:
		h.logger.Error("remove timeout failed", zap.String("target", who.id), zap.Error(err))
		return fmt.Sprintf("❌ Failed to remove timeout from %s - platform error!", who.name)
	}
}

func cmdStrikes(_ context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, _, ok := resolveUser(msg, args)
	if !ok {
		entries := h.state.Ledger.Snapshot()
		if len(entries) == 0 {
			return "📊 No users have strikes yet!"
		}
		var sb strings.Builder
		sb.WriteString("📊 Users with Strikes:")
		for _, e := range entries {
			fmt.Fprintf(&sb, "\n• User %s: %d total (%d caps, %d words, %d harassment)",
				e.User, e.Total(), e.Caps, e.BadWords, e.Harassment)
		}
		return sb.String()
	}

	rec, found := h.state.Ledger.Get(who.id)
	if !found {
		return fmt.Sprintf("📊 %s has no strikes!", who.name)
	}
	return fmt.Sprintf("📊 Strike Record for %s\n"+
		"├─ Total Strikes: %d\n"+
		"├─ Caps Abuse: %d strikes\n"+
		"├─ Bad Language: %d strikes\n"+
		"└─ Harassment: %d strikes",
		who.name, rec.Total(), rec.Caps, rec.BadWords, rec.Harassment)
}

func cmdClearStrikes(_ context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, _, ok := resolveUser(msg, args)
	if !ok {
		return noSubject
	}
	if !h.state.Ledger.Clear(who.id) {
		return fmt.Sprintf("📊 %s has no strikes to clear!", who.name)
	}
	return fmt.Sprintf("✅ Cleared all strikes for %s!", who.name)
}

func cmdAddWeakpoint(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, args, ok := resolveUser(msg, args)
	if !ok {
		return noSubject
	}
	text := strings.Join(args, " ")
	if text == "" {
		return usage(h, "addweakpoint <user> <weakpoint>")
	}
	if err := h.notes.Add(ctx, who.id, who.name, text); err != nil {
		h.logger.Error("add weakpoint failed", zap.String("target", who.id), zap.Error(err))
		return fmt.Sprintf("❌ Failed to add weakpoint for %s", who.name)
	}
	return fmt.Sprintf("✅ Added weakpoint for %s:\n`%s`", who.name, text)
}

func cmdRemoveWeakpoint(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, args, ok := resolveUser(msg, args)
	if !ok {
		return noSubject
	}
	text := strings.Join(args, " ")
	if text == "" {
		return usage(h, "removeweakpoint <user> <weakpoint>")
	}
	found, err := h.notes.Remove(ctx, who.id, text)
	if err != nil {
		h.logger.Error("remove weakpoint failed", zap.String("target", who.id), zap.Error(err))
		return fmt.Sprintf("❌ Failed to remove weakpoint for %s", who.name)
	}
	if !found {
		return fmt.Sprintf("❌ Weakpoint not found for %s", who.name)
	}
	return fmt.Sprintf("✅ Removed weakpoint for %s:\n`%s`", who.name, text)
}

func cmdWeakpoints(ctx context.Context, h *Handler, msg bus.InboundMessage, args []string) string {
	who, _, ok := resolveUser(msg, args)
	if ok {
		list, err := h.notes.List(ctx, who.id)
		if err != nil {
			h.logger.Error("list weakpoints failed", zap.String("target", who.id), zap.Error(err))
			return fmt.Sprintf("❌ Failed to load weakpoints for %s", who.name)
		}
		if len(list) == 0 {
			return fmt.Sprintf("📊 %s has no weakpoints recorded.", who.name)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "🎯 Weakpoints for %s:", who.name)
		for _, n := range list {
			fmt.Fprintf(&sb, "\n• `%s`", n.Text)
		}
		return sb.String()
	}

	all, err := h.notes.ListAll(ctx)
	if err != nil {
		h.logger.Error("list weakpoints failed", zap.Error(err))
		return "❌ Failed to load weakpoints"
	}
	if len(all) == 0 {
		return "📊 No users have weakpoints recorded yet."
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("🎯 All Users with Weakpoints:")
	for _, id := range ids {
		u := all[id]
		name := u.DisplayName
		if name == "" {
			name = "User " + id
		}
		fmt.Fprintf(&sb, "\n\n%s:", name)
		for _, n := range u.Notes {
			fmt.Fprintf(&sb, "\n  • `%s`", n)
		}
	}
	return sb.String()
}
