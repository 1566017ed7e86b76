package utils

import "strings"

func StringJoin(items []string, delim string) string {
	if len(items) == 0 {
		return ""
	}
	result := items[0]
	for _, item := range items[1:] {
		result += delim + item
	}
	return result
}

// SplitAndTrim splits on delim and drops empty entries after trimming
// whitespace. An empty input yields nil.
func SplitAndTrim(s, delim string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, delim) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
