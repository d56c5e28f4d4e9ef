package conversation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Canonical phrase sets for the end-of-conversation and confirmation
// protocols. Matching is lexical only; no semantic classifier is involved.
var (
	endDirectMatches = []string{"exit", "end", "bye", "goodbye", "quit", "stop"}

	endPhrases = []string{
		"exit conversation", "end conversation",
		"end the chat", "quit the chat", "stop the conversation", "stop talking",
		"that's all", "i'm done", "we're done",
	}

	affirmativeWords = map[string]bool{"yes": true, "yeah": true, "sure": true}
	endWords         = map[string]bool{"end": true, "exit": true, "stop": true}

	confirmPhrases = []string{
		"yes", "yeah", "yep", "sure", "ok", "okay", "continue",
		"go ahead", "proceed", "that's right", "correct", "right",
		"do it", "sounds good", "please do", "absolutely",
	}

	rejectPhrases = []string{
		"no", "nope", "nah", "stop", "don't", "do not", "cancel",
		"skip", "nevermind", "forget it", "incorrect", "wrong",
	}
)

// IsEndRequest reports whether the message asks to end the conversation:
// an exact match against the direct set, a contained end phrase, or an
// affirmative word combined with an end word (a "yes, end it" reply).
func IsEndRequest(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return false
	}

	for _, direct := range endDirectMatches {
		if msg == direct {
			return true
		}
	}
	for _, phrase := range endPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}

	var affirmative, ending bool
	for _, w := range words(msg) {
		if affirmativeWords[w] {
			affirmative = true
		}
		if endWords[w] {
			ending = true
		}
	}
	return affirmative && ending
}

// IsConfirmation reports whether the message reads as a confirmation.
func IsConfirmation(message string) bool {
	return matchesAny(message, confirmPhrases)
}

// IsRejection reports whether the message reads as a rejection.
func IsRejection(message string) bool {
	return matchesAny(message, rejectPhrases)
}

func matchesAny(message string, phrases []string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	for _, phrase := range phrases {
		if matchesPhrase(msg, phrase) {
			return true
		}
	}
	return false
}

// matchesPhrase matches exactly or as a prefix ending at a word boundary,
// so "yes please" matches "yes" but "nothing" does not match "no".
func matchesPhrase(msg, phrase string) bool {
	if msg == phrase {
		return true
	}
	if !strings.HasPrefix(msg, phrase) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(msg[len(phrase):])
	return !unicode.IsLetter(next) && !unicode.IsDigit(next)
}

// words splits a message into lower-case tokens, keeping apostrophes so
// contractions like "don't" survive intact.
func words(msg string) []string {
	return strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
