package tools

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Canonical controlDevice actions.
const (
	ActionCall             = "call"
	ActionWhatsAppCall     = "whatsapp_call"
	ActionSendMessage      = "send_message"
	ActionOpenApp          = "open_app"
	ActionToggleFlashlight = "toggle_flashlight"
	ActionSetAlarm         = "set_alarm"
)

// defaultAliases maps each canonical action to the phrasings the model (or a
// French speaker) tends to use for it.
var defaultAliases = map[string][]string{
	ActionCall:             {"appel", "appeler", "appelle", "telephoner", "telephone", "phone", "phone call"},
	ActionWhatsAppCall:     {"whatsapp", "appel whatsapp", "whatsapp call", "call whatsapp"},
	ActionSendMessage:      {"message", "envoyer message", "envoie message", "sms", "texto", "send message"},
	ActionOpenApp:          {"ouvrir", "ouvre", "lancer", "lance", "ouvrir application", "open", "launch app"},
	ActionToggleFlashlight: {"lampe", "lampe torche", "torche", "flashlight", "allumer lampe"},
	ActionSetAlarm:         {"alarme", "reveil", "alarm", "regler alarme", "mettre reveil"},
}

const (
	defaultIntentPhoneticThreshold = 0.80
	defaultIntentFuzzyThreshold    = 0.88
)

// IntentOption configures an [IntentMatcher].
type IntentOption func(*IntentMatcher)

// WithAliases adds extra phrasings for canonical action.
func WithAliases(action string, aliases ...string) IntentOption {
	return func(m *IntentMatcher) {
		m.add(action, action)
		for _, a := range aliases {
			m.add(a, action)
		}
	}
}

// WithIntentThresholds overrides the Jaro-Winkler thresholds used for
// phonetically matching and purely fuzzy candidates.
func WithIntentThresholds(phonetic, fuzzy float64) IntentOption {
	return func(m *IntentMatcher) {
		m.phoneticThreshold = phonetic
		m.fuzzyThreshold = fuzzy
	}
}

// IntentMatcher resolves free-form action strings to canonical actions. An
// exact match on the normalised phrase wins; otherwise Double Metaphone codes
// filter candidates and Jaro-Winkler ranks them.
//
// Read-only after construction and safe for concurrent use.
type IntentMatcher struct {
	phrases           map[string]string // normalised phrase -> canonical action
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewIntentMatcher returns a matcher seeded with the built-in French and
// English aliases.
func NewIntentMatcher(opts ...IntentOption) *IntentMatcher {
	m := &IntentMatcher{
		phrases:           make(map[string]string),
		phoneticThreshold: defaultIntentPhoneticThreshold,
		fuzzyThreshold:    defaultIntentFuzzyThreshold,
	}
	for action, aliases := range defaultAliases {
		m.add(action, action)
		for _, a := range aliases {
			m.add(a, action)
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *IntentMatcher) add(phrase, action string) {
	if key := normalize(phrase); key != "" {
		m.phrases[key] = action
	}
}

// Match returns the canonical action for raw. When nothing is close enough it
// returns the normalised input and false; the action set is open.
func (m *IntentMatcher) Match(raw string) (action string, matched bool) {
	key := normalize(raw)
	if key == "" {
		return "", false
	}
	if a, ok := m.phrases[key]; ok {
		return a, true
	}

	tokens := strings.Split(key, "_")
	inputCodes := metaphoneCodes(tokens)
	spaced := strings.Join(tokens, " ")

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for phrase, a := range m.phrases {
		pTokens := strings.Split(phrase, "_")
		score := jwScore(tokens, pTokens, spaced, strings.Join(pTokens, " "))
		if overlaps(inputCodes, metaphoneCodes(pTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = a, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = a, score
		}
	}
	if best != "" {
		return best, true
	}
	return key, false
}

// normalize lowercases, folds French accents and joins words with
// underscores so "Appel WhatsApp" and "appel_whatsapp" compare equal.
func normalize(s string) string {
	s = accentFolder.Replace(strings.ToLower(strings.TrimSpace(s)))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\t'
	})
	return strings.Join(fields, "_")
}

var accentFolder = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
)

func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// jwScore is the best of the full-phrase, concatenated and pairwise-token
// Jaro-Winkler similarities. Pairwise scores only count for tokens of four
// or more letters so short words like "app" do not dominate.
func jwScore(in, cand []string, inFull, candFull string) float64 {
	score := matchr.JaroWinkler(inFull, candFull, false)
	if len(in) > 1 || len(cand) > 1 {
		if s := matchr.JaroWinkler(strings.Join(in, ""), strings.Join(cand, ""), false); s > score {
			score = s
		}
	}
	for _, a := range in {
		if len(a) < 4 {
			continue
		}
		for _, b := range cand {
			if len(b) < 4 {
				continue
			}
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
