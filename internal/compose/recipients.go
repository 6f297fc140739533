package compose

import (
	"regexp"
	"slices"
	"strings"
)

// DefaultDomains are offered, in this order, once the recipient input has an "@".
var DefaultDomains = []string{
	"gmail.com",
	"outlook.com",
	"yahoo.com",
	"icloud.com",
	"hotmail.com",
	"protonmail.com",
}

var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidAddress reports whether text has the local@domain.tld shape.
func ValidAddress(text string) bool {
	return addressPattern.MatchString(text)
}

// Recipients is the token set of a compose session plus the in-progress
// input and its domain suggestions.
type Recipients struct {
	domains     []string
	tokens      []string
	input       string
	suggestions []string
}

func NewRecipients(domains []string) *Recipients {
	if len(domains) == 0 {
		domains = DefaultDomains
	}
	return &Recipients{domains: slices.Clone(domains)}
}

// Add validates and appends an address. Duplicates report success without
// growing the set. A valid address also clears the input and suggestions.
func (r *Recipients) Add(text string) bool {
	address := strings.TrimSpace(text)
	if !ValidAddress(address) {
		return false
	}
	if !slices.Contains(r.tokens, address) {
		r.tokens = append(r.tokens, address)
	}
	r.input = ""
	r.suggestions = nil
	return true
}

func (r *Recipients) Remove(address string) {
	r.tokens = slices.DeleteFunc(r.tokens, func(token string) bool {
		return token == address
	})
}

// InputChanged records the in-progress text and returns the matching domains.
func (r *Recipients) InputChanged(text string) []string {
	r.input = text
	r.suggestions = nil
	if !strings.Contains(text, "@") {
		return nil
	}
	fragment := domainFragment(text)
	for _, domain := range r.domains {
		if strings.HasPrefix(domain, fragment) {
			r.suggestions = append(r.suggestions, domain)
		}
	}
	return r.Suggestions()
}

// Commit adds the current input, as Enter or Space do.
func (r *Recipients) Commit() bool {
	return r.Add(r.input)
}

// Backspace on an empty input drops the most recently added token.
func (r *Recipients) Backspace() bool {
	if r.input != "" || len(r.tokens) == 0 {
		return false
	}
	r.tokens = r.tokens[:len(r.tokens)-1]
	return true
}

// Complete finishes the local part with the first suggested domain.
func (r *Recipients) Complete() bool {
	if len(r.suggestions) == 0 {
		return false
	}
	return r.Select(r.suggestions[0])
}

// Select commits the local part joined with a chosen domain.
func (r *Recipients) Select(domain string) bool {
	local, _, _ := strings.Cut(r.input, "@")
	return r.Add(local + "@" + domain)
}

func (r *Recipients) Tokens() []string {
	return slices.Clone(r.tokens)
}

func (r *Recipients) Input() string {
	return r.input
}

func (r *Recipients) Suggestions() []string {
	return slices.Clone(r.suggestions)
}

func (r *Recipients) SuggestionsOpen() bool {
	return len(r.suggestions) > 0
}

func (r *Recipients) Reset() {
	r.tokens = nil
	r.input = ""
	r.suggestions = nil
}

// domainFragment is the text between the first "@" and any second one.
func domainFragment(text string) string {
	_, rest, _ := strings.Cut(text, "@")
	fragment, _, _ := strings.Cut(rest, "@")
	return fragment
}
