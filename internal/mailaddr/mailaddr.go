// Package mailaddr extracts addresses, domains and list ids from header
// values.
package mailaddr

import (
	"net/mail"
	"regexp"
	"strings"
)

var angleBracketRe = regexp.MustCompile(`^[<\s]*(.*?)[>\s]*$`)

// Email returns the lower-cased address of the first mailbox in a From
// style header, or the trimmed input when it does not parse.
func Email(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil || len(addrs) == 0 {
		if m := angleBracketRe.FindStringSubmatch(lastAngle(header)); len(m) == 2 && strings.Contains(m[1], "@") {
			return strings.ToLower(strings.TrimSpace(m[1]))
		}
		return strings.ToLower(header)
	}
	return strings.ToLower(addrs[0].Address)
}

func lastAngle(s string) string {
	if i := strings.LastIndex(s, "<"); i >= 0 {
		return s[i:]
	}
	return s
}

// Domain returns the lower-cased domain of the first address in header.
func Domain(header string) string {
	return domainOfAddress(Email(header))
}

func domainOfAddress(address string) string {
	at := strings.LastIndex(address, "@")
	if at == -1 {
		return ""
	}
	return strings.Trim(address[at+1:], ". >")
}

// ListID normalizes a List-Id header to its bare identifier.
func ListID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.LastIndex(raw, "<"); i >= 0 {
		raw = raw[i:]
	}
	if m := angleBracketRe.FindStringSubmatch(raw); len(m) == 2 {
		raw = m[1]
	}
	return strings.ToLower(strings.Trim(raw, "\" "))
}

// Split parses a comma separated recipient list into bare addresses.
func Split(list string) ([]string, error) {
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return out, nil
}
