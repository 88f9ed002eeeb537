// Copyright 2024-2026 Aiku AI

package adapter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// messageText is the event text with every attachment fallback appended on
// its own line.
func messageText(evt *RawEvent) string {
	if len(evt.Attachments) == 0 {
		return evt.Text
	}
	var sb strings.Builder
	sb.WriteString(evt.Text)
	for _, att := range evt.Attachments {
		sb.WriteString("\n")
		sb.WriteString(att.Fallback)
	}
	return sb.String()
}

// replaceLeadingSelfMention swaps a mention of the bot at the very start of
// text for replacement.
func replaceLeadingSelfMention(text, selfID, replacement string) string {
	if selfID == "" || replacement == "" {
		return text
	}
	rest, ok := strings.CutPrefix(text, "<@"+selfID)
	if !ok {
		return text
	}
	switch {
	case strings.HasPrefix(rest, ">"):
		return replacement + rest[1:]
	case strings.HasPrefix(rest, "|"):
		if end := strings.IndexByte(rest, '>'); end >= 0 {
			return replacement + rest[end+1:]
		}
	}
	return text
}

// stripAddress removes a leading address of the bot from text: the alias, or
// name with an optional @ followed by ':', ',', whitespace or the end of the
// text. The name is compared case-insensitively.
func stripAddress(text, alias, name string) (string, bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if alias != "" {
		if rest, ok := strings.CutPrefix(text, alias); ok {
			return strings.TrimLeftFunc(rest, unicode.IsSpace), true
		}
	}
	if name == "" {
		return "", false
	}
	rest := strings.TrimPrefix(text, "@")
	if len(rest) < len(name) || !strings.EqualFold(rest[:len(name)], name) {
		return "", false
	}
	rest = rest[len(name):]
	if r, _ := utf8.DecodeRuneInString(rest); rest != "" && r != ':' && r != ',' && !unicode.IsSpace(r) {
		return "", false
	}
	rest = strings.TrimLeft(rest, ":,")
	return strings.TrimLeftFunc(rest, unicode.IsSpace), true
}

// mentionsName reports whether text contains @name as a whole word.
func mentionsName(text, name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(text)
	needle := "@" + strings.ToLower(name)
	for from := 0; from < len(lower); {
		idx := strings.Index(lower[from:], needle)
		if idx < 0 {
			return false
		}
		start, end := from+idx, from+idx+len(needle)
		before, _ := utf8.DecodeLastRuneInString(lower[:start])
		after, _ := utf8.DecodeRuneInString(lower[end:])
		if (start == 0 || !isNameRune(before)) && (end == len(lower) || !isNameRune(after)) {
			return true
		}
		from = start + 1
	}
	return false
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}
