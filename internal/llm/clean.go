package llm

import (
	"regexp"
	"strings"
)

var (
	thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkFencePattern = regexp.MustCompile("(?s)```think.*?```")
	jsonFencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	urlPattern        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailPattern      = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`)
	handlePattern     = regexp.MustCompile(`@[A-Za-z0-9_.]{2,}`)
	ctaPhrases        = []string{
		"subscribe to my channel",
		"like and subscribe",
		"hit the bell",
		"smash that like button",
		"follow me on",
		"check out my",
		"link in the description",
		"link in bio",
		"join my discord",
		"join our discord",
		"support me on patreon",
		"use my code",
	}
)

// StripThinking removes reasoning-model wrappers: <think>...</think> blocks
// and ```think fenced blocks.
func StripThinking(s string) string {
	s = thinkBlockPattern.ReplaceAllString(s, "")
	s = thinkFencePattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ExtractJSON pulls the first JSON object or array out of free-form model
// output. Fenced blocks are unwrapped first; after that a brace scan finds
// the outermost balanced object.
func ExtractJSON(s string) string {
	if m := jsonFencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)

	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(s, pair[0])
		if start == -1 {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case pair[0]:
				depth++
			case pair[1]:
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// PreClean strips URLs, emails, social handles, and common call-to-action
// phrases before translation.
func PreClean(s string) string {
	s = urlPattern.ReplaceAllString(s, "")
	s = emailPattern.ReplaceAllString(s, "")
	s = handlePattern.ReplaceAllString(s, "")
	lower := strings.ToLower(s)
	for _, phrase := range ctaPhrases {
		for {
			idx := strings.Index(lower, phrase)
			if idx == -1 {
				break
			}
			s = s[:idx] + s[idx+len(phrase):]
			lower = lower[:idx] + lower[idx+len(phrase):]
		}
	}
	return strings.TrimSpace(collapseBlankLines(s))
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.Join(out, "\n")
}
