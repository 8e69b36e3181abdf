package indicator

import "strings"

// MaxChunkLength is the size-limited transport's hard ceiling (Telegram's
// message length limit).
const MaxChunkLength = 4096

// SplitMessage splits text into chunks of at most maxLength, preferring to
// break at the rightmost paragraph boundary within the window, then a
// single newline, then a space, and finally a hard cut. Leading newlines
// of every chunk after the first are trimmed. Ported directly from
// original_source's split_message — the teacher's own telegram_channel.go
// used a simpler rune-count splitter that this replaces.
func SplitMessage(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = MaxChunkLength
	}
	if len([]rune(text)) <= maxLength {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string

	for len(runes) > 0 {
		if len(runes) <= maxLength {
			chunks = append(chunks, string(runes))
			break
		}

		window := runes[:maxLength]
		splitIdx := lastIndexRune(window, "\n\n")
		if splitIdx == -1 {
			splitIdx = lastIndexRune(window, "\n")
		}
		if splitIdx == -1 {
			splitIdx = lastIndexRune(window, " ")
		}
		if splitIdx == -1 {
			splitIdx = maxLength
		}

		chunks = append(chunks, string(runes[:splitIdx]))
		runes = trimLeadingNewlines(runes[splitIdx:])
	}

	return chunks
}

func lastIndexRune(window []rune, sep string) int {
	idx := strings.LastIndex(string(window), sep)
	if idx == -1 {
		return -1
	}
	return len([]rune(string(window)[:idx]))
}

func trimLeadingNewlines(runes []rune) []rune {
	i := 0
	for i < len(runes) && runes[i] == '\n' {
		i++
	}
	return runes[i:]
}
