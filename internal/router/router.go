// Package router determines which collection (workspace) an incoming
// message belongs to. The routing rules file is watched for hot
// reload, consistent with the file-watch idiom the rest of this stack
// uses.
package router

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/mail2rag/internal/config"
)

// Email is the subset of message fields the router needs. Callers in
// internal/mail build this from whatever they parsed out of the raw
// message.
type Email struct {
	From    string
	Subject string
	Body    string
}

var explicitMarker = regexp.MustCompile(`(?i)^(?:Workspace|Dossier)\s*:\s*(.+)$`)

// Router determines the target collection for a message.
// It is safe for concurrent use; the rule set can be swapped out at
// any time by Reload without blocking in-flight Route calls.
type Router struct {
	rulesPath        string
	defaultWorkspace string
	hotReload        bool
	rules            atomic.Pointer[RuleSet]
	mu               sync.Mutex // serializes Reload against itself
}

// New constructs a Router from the given configuration, loading the
// rules file once synchronously. A missing rules file is not fatal:
// the rule list is empty and routing uses the body marker or the
// default workspace until a valid file appears. A rules file that
// cannot be read or parsed makes New return an error.
func New(cfg config.RoutingConfig) (*Router, error) {
	r := &Router{
		rulesPath:        cfg.RulesPath,
		defaultWorkspace: cfg.DefaultWorkspace,
		hotReload:        cfg.HotReload,
	}

	rs, err := loadRuleSet(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	r.rules.Store(&rs)
	return r, nil
}

// Reload re-reads the rules file and atomically swaps in the new rule
// set. Safe to call concurrently with Route and with itself.
func (r *Router) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := loadRuleSet(r.rulesPath)
	if err != nil {
		return err
	}
	r.rules.Store(&rs)
	return nil
}

// Route determines the target collection slug for email by a
// three-tier precedence: explicit body marker, then ordered rule
// list, then the configured default workspace. The result is always
// slugified.
func (r *Router) Route(email Email) string {
	body := strings.TrimSpace(email.Body)
	subject := strings.TrimSpace(email.Subject)
	sender := strings.TrimSpace(email.From)

	senderL := strings.ToLower(sender)
	subjectL := strings.ToLower(subject)
	bodyL := strings.ToLower(body)
	senderDomain := extractSenderDomain(sender)

	rawWorkspace := r.defaultWorkspace
	explicit := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if match := explicitMarker.FindStringSubmatch(line); match != nil {
			candidate := strings.TrimSpace(match[1])
			if candidate != "" {
				rawWorkspace = candidate
				explicit = true
			}
			break
		}
	}

	if !explicit {
		rs := r.rules.Load()
		if rs != nil {
			for _, rule := range rs.Rules {
				workspace := strings.TrimSpace(rule.Workspace)
				if workspace == "" {
					continue
				}
				if matchRule(rule, sender, subject, body, senderL, subjectL, bodyL, senderDomain) {
					rawWorkspace = workspace
					break
				}
			}
		}
	}

	return slugify(rawWorkspace, r.defaultWorkspace)
}

// Watch starts watching the rules file for changes and reloading them
// until ctx is canceled. It returns immediately; errors encountered
// while watching are non-fatal and simply mean the rule set stays on
// its last successfully loaded value.
func (r *Router) Watch(ctx context.Context) {
	if !r.hotReloadEnabled() {
		return
	}
	go watchRulesFile(ctx, r)
}

func (r *Router) hotReloadEnabled() bool {
	return r.hotReload && r.rulesPath != ""
}
