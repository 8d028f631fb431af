package extract

import "strings"

// section is one '## Header' block with its verbatim value.
type section struct {
	title string
	value string
}

// splitSections walks the body line by line collecting '## Header' blocks.
// A section's value runs until the next '#'-prefixed line or end of input.
// Header text is kept verbatim; matching against schema field names is a
// literal case-insensitive comparison, never a pattern, so headers
// containing parentheses, brackets, or regex metacharacters are safe.
func splitSections(body string) []section {
	lines := strings.Split(body, "\n")

	var (
		sections []section
		current  *section
		buf      []string
	)

	flush := func() {
		if current == nil {
			return
		}

		current.value = strings.TrimSpace(strings.Join(buf, "\n"))
		sections = append(sections, *current)
		current = nil
		buf = nil
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")

		if strings.HasPrefix(line, "##") && !strings.HasPrefix(line, "###") {
			flush()

			title := strings.TrimSpace(strings.TrimPrefix(line, "##"))
			if title == "" {
				continue
			}

			current = &section{title: title}

			continue
		}

		if strings.HasPrefix(line, "#") {
			// Any other heading level terminates the open section.
			flush()

			continue
		}

		if current != nil {
			buf = append(buf, line)
		}
	}

	flush()

	return sections
}

// firstH1 returns the text of the first '# ' heading, or "".
func firstH1(body string) string {
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}

	return ""
}

// firstNonEmptyLine returns the first body line with visible content, or "".
func firstNonEmptyLine(body string) string {
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			return line
		}
	}

	return ""
}

// countWords counts whitespace-separated tokens in the body.
func countWords(body string) int {
	return len(strings.Fields(body))
}
