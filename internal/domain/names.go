package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nameFolder = cases.Fold()

// NameKey folds a person's name and surname into a lookup key that ignores case, diacritics and
// surrounding whitespace, so "Gómez" and "GOMEZ" share a key.
func NameKey(name, surname string) string {
	joined := strings.Join(strings.Fields(name+" "+surname), " ")
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), joined)
	if err != nil {
		stripped = joined
	}
	return nameFolder.String(stripped)
}

// NameKey returns the folded lookup key of the user.
func (u User) NameKey() string {
	return NameKey(u.Name, u.Surname)
}
