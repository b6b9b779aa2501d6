package delivery

import (
	"regexp"
	"strings"
	"time"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Filename is ticket_<order_number>.pdf, or ticket_<YYYY-MM-DD>.pdf when the
// order number is missing, empty or only whitespace. Surrounding whitespace is
// dropped before unsafe characters become '_'.
func Filename(orderNumber *string, now time.Time) string {
	stem := ""
	if orderNumber != nil {
		stem = unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(*orderNumber), "_")
	}
	if stem == "" {
		stem = now.Format("2006-01-02")
	}
	return "ticket_" + stem + ".pdf"
}
