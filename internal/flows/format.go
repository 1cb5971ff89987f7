package flows

import "strconv"

func itoa(n int) string {
	return strconv.Itoa(n)
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

func remainingMessage(prefix string, remaining int) string {
	if remaining == 1 {
		return prefix + " 1 attempt remaining."
	}
	return prefix + " " + itoa(remaining) + " attempts remaining."
}
