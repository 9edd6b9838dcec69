package format

import "strings"

const (
	mdV1Specials = "_*`["
	mdV2Specials = "_*[]()~`>#+-=|{}.!"
)

func escape(text, specials string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x80 && strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapeMarkdown escapes Telegram Markdown (V1) control characters so
// user-supplied text renders literally inside formatted messages.
func EscapeMarkdown(text string) string {
	return escape(text, mdV1Specials)
}

// EscapeMarkdownV2 escapes the larger MarkdownV2 special set.
func EscapeMarkdownV2(text string) string {
	return escape(text, mdV2Specials)
}
