package usecase

import (
	"context"
	"fmt"
	"strings"

	"roomservice-agent/internal/domain"
)

// replyTemplates holds the agent-facing copy for each decision branch.
// The "multiple", "conflict", "substitute" and "unavailable" entries are
// fmt format strings; "confirm" receives the item name.
type replyTemplates struct {
	clarify     string
	multiple    string
	conflict    string
	substitute  string
	unavailable string
	confirm     string
}

func defaultReplyTemplates() replyTemplates {
	return replyTemplates{
		clarify:     "Could you tell me which meal or dish you'd like? For example: 'Caesar salad', 'club sandwich', or 'pancakes'.",
		multiple:    "I found multiple items that match: %s. Which one would you like?",
		conflict:    "Note: this item may conflict with preferences: %s. Would you like me to suggest alternatives that fit your preferences?",
		substitute:  "Sorry, %s is currently unavailable. May I suggest: %s?",
		unavailable: "Sorry, %s is currently unavailable and I have no close alternatives. Would you like something else?",
		confirm:     "Order confirmed: %s",
	}
}

// templateKeys are the SSM parameter names, relative to the configured
// prefix, that may override each template.
var templateKeys = [...]struct {
	name  string
	field func(*replyTemplates) *string
}{
	{"/replies/clarify", func(t *replyTemplates) *string { return &t.clarify }},
	{"/replies/multiple", func(t *replyTemplates) *string { return &t.multiple }},
	{"/replies/conflict", func(t *replyTemplates) *string { return &t.conflict }},
	{"/replies/substitute", func(t *replyTemplates) *string { return &t.substitute }},
	{"/replies/unavailable", func(t *replyTemplates) *string { return &t.unavailable }},
	{"/replies/confirm", func(t *replyTemplates) *string { return &t.confirm }},
}

// templatesFor returns the reply templates, loading overrides from the
// parameter store on first use. A load failure falls back to the built-in
// defaults for this request and retries on the next one.
func (s *ConciergeService) templatesFor(ctx context.Context) replyTemplates {
	if s.params == nil {
		return defaultReplyTemplates()
	}

	s.cacheMu.RLock()
	if s.cacheLoaded {
		t := s.templates
		s.cacheMu.RUnlock()
		return t
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.templates
	}

	t := defaultReplyTemplates()
	for _, key := range templateKeys {
		v, err := s.params.GetParameter(ctx, s.paramPrefix+key.name)
		if err != nil {
			return defaultReplyTemplates()
		}
		if v = strings.TrimSpace(v); v != "" {
			*key.field(&t) = v
		}
	}
	s.templates = t
	s.cacheLoaded = true
	return t
}

func clarifyReply(t replyTemplates) domain.Reply {
	return domain.Reply{Text: t.clarify, NeedClarify: true}
}

func multipleCandidatesReply(t replyTemplates, candidates []domain.MenuItem) domain.Reply {
	names := itemNames(candidates)
	return domain.Reply{
		Text:        fmt.Sprintf(t.multiple, strings.Join(names, ", ")),
		Candidates:  names,
		NeedClarify: true,
	}
}

func conflictReply(t replyTemplates, conflicts []string) domain.Reply {
	return domain.Reply{
		Text:        fmt.Sprintf(t.conflict, strings.Join(conflicts, ", ")),
		Conflicts:   conflicts,
		NeedClarify: true,
	}
}

func substitutesReply(t replyTemplates, item domain.MenuItem, subs []domain.MenuItem) domain.Reply {
	names := itemNames(subs)
	return domain.Reply{
		Text:         fmt.Sprintf(t.substitute, item.Name, strings.Join(names, ", ")),
		Alternatives: names,
		NeedClarify:  true,
	}
}

func unavailableReply(t replyTemplates, item domain.MenuItem) domain.Reply {
	return domain.Reply{
		Text:        fmt.Sprintf(t.unavailable, item.Name),
		NeedClarify: true,
	}
}

func confirmationReply(t replyTemplates, order domain.Order) domain.Reply {
	o := order
	return domain.Reply{
		Text:  fmt.Sprintf(t.confirm, order.ItemName),
		Order: &o,
	}
}

func itemNames(items []domain.MenuItem) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}
