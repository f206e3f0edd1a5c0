// Package phone normalizes WhatsApp phone numbers and checks them against
// the authorized-number allow-list.
package phone

import (
	"strings"
)

// Normalize returns the canonical +<countrycode><number> form. Spaces,
// dashes, dots and brackets are dropped; an empty or digitless input
// yields "".
func Normalize(s string) string {
	digits := Digits(s)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Digits returns only the digits of s, which is the form the Cloud API
// expects in the "to" field.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AllowList is an immutable set of authorized phone numbers.
type AllowList struct {
	allowAll bool
	numbers  map[string]struct{}
}

// NewAllowList builds the set from raw numbers. With allowAll every sender
// is authorized regardless of the list.
func NewAllowList(numbers []string, allowAll bool) *AllowList {
	a := &AllowList{allowAll: allowAll, numbers: make(map[string]struct{}, len(numbers))}
	for _, n := range numbers {
		if p := Normalize(n); p != "" {
			a.numbers[p] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether the number may talk to the bot.
func (a *AllowList) Allowed(number string) bool {
	if a == nil {
		return false
	}
	if a.allowAll {
		return true
	}
	_, ok := a.numbers[Normalize(number)]
	return ok
}

// Len returns the number of explicitly listed numbers.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.numbers)
}
