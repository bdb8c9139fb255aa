package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

const maxSearchSubjectLength = 30

var (
	unsafePathChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	nonWordChars    = regexp.MustCompile(`\W+`)
)

// SubjectFromLocator names the output group of a seed locator: the department (d=) or
// topic (t=) it lists, Search_<query> for searches (q=), and General otherwise.
// The result is safe to use as a directory name.
func SubjectFromLocator(locator string) string {
	parsed, err := url.Parse(locator)
	if err != nil {
		return "General"
	}
	query := parsed.Query()

	switch {
	case query.Get("d") != "":
		return groupSubject(query.Get("d"))
	case query.Get("t") != "":
		return groupSubject(query.Get("t"))
	case query.Get("q") != "":
		search := nonWordChars.ReplaceAllString(cleanSubject(query.Get("q")), "_")
		if len(search) > maxSearchSubjectLength {
			search = search[:maxSearchSubjectLength]
		}
		if search == "" || search == "_" {
			return "General"
		}
		return "Search_" + search
	}
	return "General"
}

func groupSubject(raw string) string {
	subject := cleanSubject(raw)
	switch {
	case subject == "":
		return "General"
	case strings.Contains(subject, "Computer Science"):
		return "Computer Science"
	case strings.Contains(subject, "Mathematics"):
		return "Mathematics"
	}
	return strings.TrimSpace(strings.Split(subject, " and ")[0])
}

func cleanSubject(raw string) string {
	return strings.TrimSpace(unsafePathChars.ReplaceAllString(raw, ""))
}
