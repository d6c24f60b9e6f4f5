// Package local holds the user-facing copy. Arabic is the primary language
// and the fallback for anything without a translation.
package local

import "fmt"

type Language string

const (
	Ara = Language("ar")
	Eng = Language("en")
)

func ParseLanguage(s string) Language {
	switch Language(s) {
	case Eng:
		return Eng
	default:
		return Ara
	}
}

// TextSet is one sentence keyed by language.
type TextSet map[Language]string

func Set(ara, eng string) TextSet {
	return TextSet{
		Ara: ara,
		Eng: eng,
	}
}

func (s TextSet) Text(language Language) string {
	if text, ok := s[language]; ok && text != "" {
		return text
	}
	return s[Ara]
}

// Format fills the sentence's verbs with args.
func (s TextSet) Format(language Language, args ...any) string {
	return fmt.Sprintf(s.Text(language), args...)
}
