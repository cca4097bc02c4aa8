package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// minTokenLen is the shortest word the corrector will rewrite. Shorter words
// ("can", "to", "uk") collide with too many vocabulary terms.
const minTokenLen = 4

// realWords are ordinary words that sit within one edit of a country name.
// They are never rewritten, however close they sound.
var realWords = map[string]struct{}{
	"english": {}, "british": {}, "french": {}, "dutch": {}, "spanish": {},
	"swedish": {}, "danish": {}, "finnish": {}, "polish": {}, "turkish": {},
	"frank": {}, "franz": {}, "franc": {}, "francs": {}, "franco": {},
	"canary": {}, "canal": {}, "chili": {}, "chilly": {}, "finish": {},
	"greek": {}, "green": {}, "pain": {}, "spin": {}, "chain": {},
}

// Correction records one rewritten span.
type Correction struct {
	From       string
	To         string
	Confidence float64
}

// Corrector rewrites misrecognised vocabulary terms in an utterance. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher *Matcher
	single  []string
	multi   map[int][]string
	maxN    int
}

// NewCorrector builds a Corrector for terms. Terms are matched
// case-insensitively and written back in title case. Single-word terms shorter
// than four letters are ignored.
func NewCorrector(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher: New(opts...),
		multi:   make(map[int][]string),
		maxN:    1,
	}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		n := len(strings.Fields(t))
		switch {
		case n == 0:
		case n == 1:
			if utf8.RuneCountInString(t) >= minTokenLen {
				c.single = append(c.single, t)
			}
		default:
			c.multi[n] = append(c.multi[n], strings.Join(strings.Fields(t), " "))
			c.maxN = max(c.maxN, n)
		}
	}
	return c
}

// Correct returns text with confident corrections applied.
func (c *Corrector) Correct(text string) string {
	out, _ := c.Corrections(text)
	return out
}

// Corrections returns the corrected text and the list of rewrites. When
// nothing is rewritten text is returned unchanged, whitespace included.
func (c *Corrector) Corrections(text string) (string, []Correction) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return text, nil
	}
	toks := make([]token, len(fields))
	for i, f := range fields {
		toks[i] = splitToken(f)
	}

	var (
		out   []string
		fixes []Correction
	)
	for i := 0; i < len(toks); {
		n, term, conf := c.matchAt(toks, i)
		switch {
		case n == 0:
			out = append(out, fields[i])
			i++
		case term == "":
			out = append(out, fields[i:i+n]...)
			i += n
		default:
			from := joinCores(toks[i : i+n])
			to := titleCase(term)
			out = append(out, toks[i].lead+to+toks[i+n-1].trail)
			fixes = append(fixes, Correction{From: from, To: to, Confidence: conf})
			i += n
		}
	}
	if len(fixes) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), fixes
}

// matchAt looks for a term starting at toks[i]. It returns the number of
// tokens consumed (0 when nothing matched) and the replacement term, which is
// empty when the span already spells a term exactly.
func (c *Corrector) matchAt(toks []token, i int) (int, string, float64) {
	for n := c.maxN; n >= 2; n-- {
		if i+n > len(toks) || !contiguous(toks[i:i+n]) {
			continue
		}
		if term, conf, exact, ok := c.matchPhrase(toks[i:i+n], c.multi[n]); ok {
			if exact {
				return n, "", 0
			}
			return n, term, conf
		}
	}

	word := strings.ToLower(toks[i].core)
	if utf8.RuneCountInString(word) < minTokenLen {
		return 0, "", 0
	}
	if _, ok := realWords[word]; ok {
		return 0, "", 0
	}
	var candidates []string
	for _, t := range c.single {
		if t == word {
			return 1, "", 0
		}
		// Demonyms and other derived words ("german", "canadian") stay.
		if strings.HasPrefix(word, t) || strings.HasPrefix(t, word) {
			continue
		}
		if absDiff(utf8.RuneCountInString(word), utf8.RuneCountInString(t)) > 1 {
			continue
		}
		candidates = append(candidates, t)
	}
	// A lone word must sound like the term; spelling similarity alone turns
	// "english" into "england".
	if term, conf, ok := c.matcher.MatchPhonetic(word, candidates); ok {
		return 1, term, conf
	}
	return 0, "", 0
}

// matchPhrase compares an n-token window with n-token terms. Every token pair
// must clear the phonetic threshold and the whole phrase the fuzzy threshold,
// so a single shared word ("states") is never enough.
func (c *Corrector) matchPhrase(window []token, terms []string) (term string, conf float64, exact, ok bool) {
	words := make([]string, len(window))
	for j, t := range window {
		words[j] = strings.ToLower(t.core)
	}
	phrase := strings.Join(words, " ")

	for _, t := range terms {
		if t == phrase {
			return t, 1, true, true
		}
		if absDiff(utf8.RuneCountInString(phrase), utf8.RuneCountInString(t)) > 1 {
			continue
		}
		tw := strings.Fields(t)
		pairwise := true
		for j := range tw {
			if matchr.JaroWinkler(words[j], tw[j], false) < c.matcher.phoneticThreshold {
				pairwise = false
				break
			}
		}
		if !pairwise {
			continue
		}
		score := matchr.JaroWinkler(phrase, t, false)
		if score >= c.matcher.fuzzyThreshold && score > conf {
			term, conf, ok = t, score, true
		}
	}
	return term, conf, false, ok
}

// token is one whitespace-separated field split into surrounding punctuation
// and the word core.
type token struct {
	lead, core, trail string
}

func splitToken(f string) token {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(f, isWord)
	if start < 0 {
		return token{lead: f}
	}
	end := strings.LastIndexFunc(f, isWord)
	_, size := utf8.DecodeRuneInString(f[end:])
	return token{lead: f[:start], core: f[start : end+size], trail: f[end+size:]}
}

// contiguous reports whether the window reads as one phrase: no empty cores
// and no punctuation between the words.
func contiguous(window []token) bool {
	for j, t := range window {
		if t.core == "" {
			return false
		}
		if j > 0 && t.lead != "" {
			return false
		}
		if j < len(window)-1 && t.trail != "" {
			return false
		}
	}
	return true
}

func joinCores(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.core
	}
	return strings.Join(parts, " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
