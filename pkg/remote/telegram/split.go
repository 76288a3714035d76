package telegram

import "strings"

// TextLimit keeps chunks under Telegram's 4096-character message cap with room for markup.
const TextLimit = 4000

// maxEntity bounds the length of an HTML entity such as "&#x1F600;".
const maxEntity = 10

// Split cuts s into chunks of at most limit runes. A cut prefers the last
// newline in the window (unless that leaves a tiny chunk). For HTML it never
// lands inside a tag or an entity; for Markdown it never separates a
// backslash from the character it escapes.
func Split(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")
	markdown := strings.HasPrefix(strings.ToLower(parseMode), "markdown")

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if nl := lastRune(rs[start:end], '\n'); nl >= limit/3 {
				end = start + nl + 1
			}
			if html {
				if open := lastRune(rs[start:end], '<'); open > 0 && open > lastRune(rs[start:end], '>') {
					end = start + open
				}
				w := rs[start:end]
				if amp := lastRune(w, '&'); amp > 0 && amp > lastRune(w, ';') && len(w)-amp < maxEntity {
					end = start + amp
				}
			}
			if markdown {
				n := 0
				for i := end - 1; i >= start && rs[i] == '\\'; i-- {
					n++
				}
				if n%2 == 1 && end-1 > start {
					end--
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func lastRune(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
