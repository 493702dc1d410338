package tabulate

import (
	"net/mail"
	"strings"
)

// identity resolves a raw From header to a lowercase email address and,
// where possible, an account uid. Addresses on the foundation domain map
// directly to their local part; other addresses go through the directory
// snapshot. The ".invalid" suffix some archives append is stripped first.
//
// net/mail handles the RFC 5322 parsing.
func identity(fromRaw string, emailToUID map[string]string, foundationDomain string) (ok bool, emailLower, asfUID string) {
	addr, err := mail.ParseAddress(fromRaw)
	if err != nil {
		return false, "", ""
	}
	emailLower = strings.ToLower(addr.Address)
	if emailLower == "" {
		return false, "", ""
	}
	emailLower = strings.TrimSuffix(emailLower, ".invalid")

	if local, found := strings.CutSuffix(emailLower, "@"+foundationDomain); found {
		return true, emailLower, local
	}
	if uid, found := emailToUID[emailLower]; found {
		return true, emailLower, uid
	}
	return true, emailLower, ""
}
