package theme

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"threadlens/internal/model"
	"threadlens/internal/util"
)

var (
	accent   = lipgloss.Color("212")
	dim      = lipgloss.Color("242")
	author   = lipgloss.Color("75")
	warnText = lipgloss.Color("220")

	headerStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	authorStyle = lipgloss.NewStyle().Foreground(author).Bold(true)
	metaStyle   = lipgloss.NewStyle().Foreground(dim)
	cwStyle     = lipgloss.NewStyle().Foreground(warnText).Italic(true)
	rootStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
	noteStyle   = lipgloss.NewStyle().PaddingLeft(2)
)

const maxTextRunes = 280

// Banner returns the header printed above pretty output.
func Banner(title string) string {
	return headerStyle.Render("✦ threadlens") + metaStyle.Render(" · "+title)
}

// RenderThread renders ancestors top-down, the boxed root, then replies newest first.
func RenderThread(th model.Thread, now time.Time) string {
	var b strings.Builder
	for _, n := range th.Ancestors {
		b.WriteString(noteStyle.Render(Note(n, now)))
		b.WriteString("\n")
	}
	b.WriteString(rootStyle.Render(Note(th.Root, now)))
	b.WriteString("\n")
	if len(th.Descendants) > 0 {
		b.WriteString(metaStyle.Render(fmt.Sprintf("  %s", english.Plural(len(th.Descendants), "reply", "replies"))))
		b.WriteString("\n")
	}
	for _, n := range th.Descendants {
		b.WriteString(noteStyle.Render(Note(n, now)))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderWindow renders a timeline window newest first, boxing the anchor.
func RenderWindow(w model.TimelineWindow, anchorID string, now time.Time) string {
	blocks := make([]string, 0, len(w))
	for _, n := range w {
		if n.ID == anchorID {
			blocks = append(blocks, rootStyle.Render(Note(n, now)))
			continue
		}
		blocks = append(blocks, noteStyle.Render(Note(n, now)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...) + "\n"
}

// Note renders one note: author line, optional content warning, text and attachment count.
func Note(n model.Note, now time.Time) string {
	handle := "@" + n.Author.Username
	if n.Author.Host != nil && *n.Author.Host != "" {
		handle += "@" + *n.Author.Host
	}
	name := n.Author.Name
	if name == "" {
		name = n.Author.Username
	}
	lines := []string{
		authorStyle.Render(name) + " " + metaStyle.Render(handle+" · "+humanize.RelTime(n.CreatedAt, now, "ago", "from now")),
	}
	if n.ContentWarning != nil && *n.ContentWarning != "" {
		lines = append(lines, cwStyle.Render("CW: "+util.NormalizeWhitespace(*n.ContentWarning)))
	}
	if n.Text != nil && *n.Text != "" {
		lines = append(lines, util.Truncate(util.NormalizeWhitespace(*n.Text), maxTextRunes))
	}
	if len(n.Attachments) > 0 {
		lines = append(lines, metaStyle.Render(english.Plural(len(n.Attachments), "attachment", "attachments")))
	}
	if total := reactions(n); total > 0 {
		lines = append(lines, metaStyle.Render(humanize.Comma(int64(total))+" reactions"))
	}
	return strings.Join(lines, "\n")
}

func reactions(n model.Note) int {
	total := 0
	for _, c := range n.ReactionCounts {
		total += c
	}
	return total
}
