package naming

import "strings"

// SanitizeID makes a time series id safe to embed in file names: path
// separators, spaces and characters Windows rejects become '-'.
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "timeseries"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\t':
			return '-'
		}
		return r
	}, id)
}
