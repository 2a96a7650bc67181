package feed

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// MaxStatusLength is the destination platform's maximum status length.
const MaxStatusLength = 500

const statusIcon = "📰"
const fallbackFeedName = "RSS Feed"

// Every post carries these in addition to the feed's own hashtags.
var builtinTags = []string{"RSS", "FeedToot"}

var hashtagPattern = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// Formatter builds a bounded-length post body from a candidate item. It is
// deterministic: the same inputs always produce the same output.
type Formatter struct {
	policy *bluemonday.Policy
}

func NewFormatter() *Formatter {
	return &Formatter{policy: bluemonday.StrictPolicy()}
}

// Run assembles "<icon> <feed name>", the item title, the item link and the
// hashtag line into one status. When the result would exceed
// MaxStatusLength, only the title is truncated; link and hashtags stay
// intact.
func (f *Formatter) Run(feedName string, item Item, hashtags []string) string {
	name := f.sanitize(feedName)
	if name == "" {
		name = fallbackFeedName
	}
	title := f.sanitize(item.Title)
	link := strings.TrimSpace(item.Link)
	tags := hashtagLine(hashtags)

	body := assemble(name, title, link, tags)
	if runeLen(body) <= MaxStatusLength {
		return body
	}

	// Everything except the title is fixed; give the title whatever
	// budget remains, reserving one rune for the ellipsis.
	overhead := runeLen(assemble(name, "", link, tags)) + 1
	budget := MaxStatusLength - overhead
	if budget < 0 {
		budget = 0
	}
	title = string([]rune(title)[:budget]) + "…"
	return assemble(name, title, link, tags)
}

// sanitize strips markup and unescapes HTML entities, leaving plain text.
func (f *Formatter) sanitize(s string) string {
	s = f.policy.Sanitize(s)
	s = html.UnescapeString(s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func assemble(name, title, link, tags string) string {
	var b strings.Builder
	b.WriteString(statusIcon)
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString("\n\n")
	b.WriteString(title)
	if link != "" {
		b.WriteString("\n\n")
		b.WriteString(link)
	}
	b.WriteString("\n\n")
	b.WriteString(tags)
	return b.String()
}

// hashtagLine validates and normalizes the feed's hashtags and prepends the
// built-in ones. Tags must consist of word characters (Unicode-aware);
// anything else is dropped.
func hashtagLine(hashtags []string) string {
	parts := make([]string, 0, len(builtinTags)+len(hashtags))
	for _, tag := range builtinTags {
		parts = append(parts, "#"+tag)
	}
	for _, tag := range hashtags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		tag = norm.NFC.String(tag)
		if tag == "" || !hashtagPattern.MatchString(tag) {
			continue
		}
		parts = append(parts, "#"+tag)
	}
	return strings.Join(parts, " ")
}

func runeLen(s string) int {
	return len([]rune(s))
}
