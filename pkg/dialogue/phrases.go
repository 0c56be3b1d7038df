package dialogue

import "slices"

// Phrases holds the literal lists used to read caller intent and reply shape.
// A phrase matches a run of whole words, ignoring case and punctuation.
type Phrases struct {
	// AskRepeat marks a reply that asks the caller to repeat themselves.
	AskRepeat []string
	// Decline marks a caller utterance that declines further help.
	Decline []string
	// Closing marks a reply that closes the conversation.
	Closing []string
	// QuestionWords disqualify an utterance from looking like a name.
	QuestionWords []string
	// NameFields are the structured fields that hold a person's name.
	NameFields []string
}

// DefaultPhrases returns the English phrase lists.
func DefaultPhrases() Phrases {
	return Phrases{
		AskRepeat: []string{
			"didn't catch", "did not catch", "couldn't understand", "could not understand",
			"couldn't quite catch", "speak clearly", "say that again", "repeat that",
		},
		Decline: []string{
			"no thank you", "no thanks", "that's all", "that is all", "i'm good", "i am good",
			"nothing else", "that's it", "goodbye", "bye",
		},
		Closing: []string{
			"have a great day", "have a good day", "have a nice day", "goodbye", "take care",
		},
		QuestionWords: []string{
			"what", "who", "where", "when", "why", "how", "is", "are", "can", "could", "would", "should",
		},
		NameFields: []string{"name", "first_name", "last_name", "full_name"},
	}
}

// WithOverrides replaces every non-empty list.
func (p Phrases) WithOverrides(askRepeat, decline, closing, questionWords []string) Phrases {
	if len(askRepeat) > 0 {
		p.AskRepeat = askRepeat
	}
	if len(decline) > 0 {
		p.Decline = decline
	}
	if len(closing) > 0 {
		p.Closing = closing
	}
	if len(questionWords) > 0 {
		p.QuestionWords = questionWords
	}
	return p
}

// Prompts are the fixed utterances spoken by the state machine itself.
type Prompts struct {
	SpellName      string
	HandOff        string
	HandOffName    string
	SpeakSlower    string
	DidNotCatch    string
	ProcessingFail string
}

// DefaultPrompts returns the English prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		SpellName: "I'm sorry, I couldn't quite catch that. Could you please spell your name for me? " +
			"First, tell me your first name, and then your last name.",
		HandOff: "I'm sorry, I'm having trouble understanding you. Let's start fresh. " +
			"If it's easier, you can also call back from a quieter place. How can I help you?",
		HandOffName: "I'm sorry, I'm having trouble getting your name. Let's start fresh. " +
			"Please say your first name, and then your last name, slowly.",
		SpeakSlower:    "I'm sorry, I'm having trouble hearing you. Could you please speak slower and more clearly?",
		DidNotCatch:    "I didn't catch that. Please speak clearly.",
		ProcessingFail: "I'm sorry, I had trouble processing that. Please try again.",
	}
}

// matchesAny reports whether text contains any of the phrases as a run of
// whole words, so "bye" does not match "Byers".
func matchesAny(text string, phrases []string) bool {
	words := tokenize(text)
	for _, p := range phrases {
		pw := tokenize(p)
		if len(pw) == 0 || len(pw) > len(words) {
			continue
		}
		for i := 0; i+len(pw) <= len(words); i++ {
			if slices.Equal(words[i:i+len(pw)], pw) {
				return true
			}
		}
	}
	return false
}
