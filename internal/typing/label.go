package typing

import "fmt"

// Label renders the indicator line shown under a chat title.
func Label(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing…", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing…", names[0], names[1])
	default:
		return fmt.Sprintf("%d people are typing…", len(names))
	}
}
