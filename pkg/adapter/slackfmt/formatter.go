// Copyright 2024-2026 Aiku AI

// Package slackfmt converts Slack message markup to the plain text bot
// listeners match against, extracting user and conversation mentions in the
// same pass.
package slackfmt

import (
	"context"
	"html"
	"regexp"
	"strings"
)

// MentionType identifies what a Mention points at.
type MentionType string

const (
	MentionUser         MentionType = "user"
	MentionConversation MentionType = "conversation"
)

// Entity is the display information known for a user or conversation id.
type Entity struct {
	ID   string
	Name string
	// Raw holds the platform object the entity was built from, if any.
	Raw any
}

// Mention is a user or conversation reference found in a message.
type Mention struct {
	ID   string
	Type MentionType
	// Info is nil unless the entity was already cached when the text was scanned.
	Info *Entity
}

// Resolver resolves ids found in references to display entities.
type Resolver interface {
	// Resolve may perform a remote lookup.
	Resolve(ctx context.Context, typ MentionType, id string) (Entity, bool)
	// Peek only reports what is already known and never fetches.
	Peek(typ MentionType, id string) (Entity, bool)
}

// ParsedText holds the result of normalizing a Slack message text.
type ParsedText struct {
	Text     string
	Mentions []Mention
}

var (
	referenceRe = regexp.MustCompile(`<([^<>|]+)(?:\|([^<>]*))?>`)
	schemeRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)
)

// specialGroups are the !-commands that render as an @-broadcast.
var specialGroups = map[string]struct{}{
	"everyone": {},
	"channel":  {},
	"group":    {},
	"here":     {},
}

// DecodeEntities decodes HTML entities once. Already decoded text is
// returned unchanged.
func DecodeEntities(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return html.UnescapeString(text)
}

// Normalize is Parse without the mention list.
func Normalize(ctx context.Context, text string, resolver Resolver) string {
	return Parse(ctx, text, resolver).Text
}

// Parse rewrites every bracketed reference in text in a single left-to-right
// pass and decodes entities in the surrounding text and in labels. References
// that cannot be rendered are left exactly as they appeared.
func Parse(ctx context.Context, text string, resolver Resolver) *ParsedText {
	if text == "" {
		return &ParsedText{}
	}

	var out strings.Builder
	out.Grow(len(text))
	var mentions []Mention

	last := 0
	for _, loc := range referenceRe.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(DecodeEntities(text[last:loc[0]]))
		last = loc[1]

		token := text[loc[0]:loc[1]]
		target := text[loc[2]:loc[3]]
		var label string
		if loc[4] >= 0 {
			label = text[loc[4]:loc[5]]
		}

		rendered, mention := renderReference(ctx, resolver, token, target, label)
		if mention != nil {
			mentions = append(mentions, *mention)
		}
		out.WriteString(rendered)
	}
	out.WriteString(DecodeEntities(text[last:]))

	return &ParsedText{
		Text:     out.String(),
		Mentions: mentions,
	}
}

func renderReference(ctx context.Context, resolver Resolver, token, target, label string) (string, *Mention) {
	switch target[0] {
	case '@':
		return renderEntity(ctx, resolver, token, target[1:], label, MentionUser, "@")
	case '#':
		return renderEntity(ctx, resolver, token, target[1:], label, MentionConversation, "#")
	case '!':
		return renderSpecial(token, target[1:], label), nil
	}
	if schemeRe.MatchString(target) {
		return renderLink(target, label), nil
	}
	return token, nil
}

func renderEntity(ctx context.Context, resolver Resolver, token, id, label string, typ MentionType, sigil string) (string, *Mention) {
	mention := &Mention{ID: id, Type: typ}
	if resolver != nil {
		// Mentions only carry what was known before this message asked for it.
		if info, ok := resolver.Peek(typ, id); ok {
			mention.Info = &info
		}
	}

	if label != "" {
		return sigil + DecodeEntities(label), mention
	}
	if resolver == nil {
		return token, mention
	}
	entity, ok := resolver.Resolve(ctx, typ, id)
	if !ok || entity.Name == "" {
		return token, mention
	}
	return sigil + entity.Name, mention
}

func renderSpecial(token, command, label string) string {
	if _, ok := specialGroups[command]; ok {
		return "@" + command
	}
	if label == "" {
		return token
	}
	label = DecodeEntities(label)
	if strings.HasPrefix(command, "subteam^") && strings.HasPrefix(label, "@@") {
		label = label[1:]
	}
	return label
}

func renderLink(target, label string) string {
	target = DecodeEntities(target)
	display := target
	if len(target) >= len("mailto:") && strings.EqualFold(target[:len("mailto:")], "mailto:") {
		display = target[len("mailto:"):]
	}
	if label == "" {
		return display
	}
	label = DecodeEntities(label)
	if labelCollapses(label, target) {
		return display
	}
	return label + " (" + display + ")"
}

// labelCollapses reports whether label is just a shortened spelling of the
// link target: equal to it, or a literal prefix or suffix of it with or
// without the scheme. The comparison is case-sensitive.
func labelCollapses(label, target string) bool {
	for _, candidate := range []string{target, stripScheme(target)} {
		if strings.HasPrefix(candidate, label) || strings.HasSuffix(candidate, label) {
			return true
		}
	}
	return false
}

func stripScheme(target string) string {
	if idx := strings.Index(target, "://"); idx >= 0 {
		return target[idx+len("://"):]
	}
	if loc := schemeRe.FindStringIndex(target); loc != nil {
		return target[loc[1]:]
	}
	return target
}
