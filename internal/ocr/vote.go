package ocr

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Vote combines recognitions of the same text into a consensus. Candidates
// are grouped by normalized text and the group with the largest summed
// confidence wins; when enough candidates share the winner's length the
// string is refined by a confidence-weighted vote per character. The result
// confidence is the winner's mean confidence discounted by disagreement.
func Vote(candidates []Recognition) Recognition {
	type group struct {
		text    string
		count   int
		confSum float64
	}

	groups := make(map[string]*group)
	var voters []Recognition
	for _, c := range candidates {
		text := normalizeSpace(c.Text)
		if text == "" {
			continue
		}
		g, ok := groups[text]
		if !ok {
			g = &group{text: text}
			groups[text] = g
		}
		g.count++
		g.confSum += c.Confidence
		voters = append(voters, Recognition{Text: text, Confidence: c.Confidence})
	}
	if len(voters) == 0 {
		return Recognition{}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].confSum != ordered[j].confSum {
			return ordered[i].confSum > ordered[j].confSum
		}
		return ordered[i].text < ordered[j].text
	})
	winner := ordered[0]

	agreement := float64(winner.count) / float64(len(voters))
	confidence := winner.confSum / float64(winner.count) * (0.5 + 0.5*agreement)

	return Recognition{Text: characterVote(winner.text, voters), Confidence: confidence}
}

// minCharacterVoters is how many same-length candidates a per-character
// vote needs before it may override the winning string.
const minCharacterVoters = 3

func characterVote(winner string, voters []Recognition) string {
	target := []rune(winner)
	var aligned []Recognition
	for _, v := range voters {
		if len([]rune(v.Text)) == len(target) {
			aligned = append(aligned, v)
		}
	}
	if len(aligned) < minCharacterVoters {
		return winner
	}

	out := make([]rune, len(target))
	for pos := range target {
		weights := make(map[rune]float64)
		for _, v := range aligned {
			weights[[]rune(v.Text)[pos]] += v.Confidence
		}
		best, bestWeight := target[pos], weights[target[pos]]
		for r, w := range weights {
			if w > bestWeight || (w == bestWeight && r < best) {
				best, bestWeight = r, w
			}
		}
		out[pos] = best
	}
	return string(out)
}

func normalizeSpace(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

var tokenPattern = regexp.MustCompile(`[\pL\pN]+`)

var (
	toDigit = map[rune]rune{
		'O': '0', 'o': '0', 'D': '0', 'Q': '0',
		'I': '1', 'l': '1', 'i': '1',
		'Z': '2', 'z': '2',
		'S': '5', 's': '5',
		'G': '6', 'b': '6',
		'B': '8',
		'g': '9', 'q': '9',
	}
	toLower = map[rune]rune{
		'0': 'o', '1': 'l', '2': 'z', '5': 's', '6': 'b', '8': 'b', '9': 'g',
	}
	toUpper = map[rune]rune{
		'0': 'O', '1': 'I', '2': 'Z', '5': 'S', '6': 'G', '8': 'B', '9': 'G',
	}
)

// Correct repairs tokens that mix letters and digit look-alikes: mostly
// numeric tokens become numbers, mostly alphabetic ones become words. When a
// dictionary is given, known words are left alone and an unknown token whose
// alphabetic reading is a known word is replaced by it. Returns the text and
// how many tokens changed.
func Correct(text string, dictionary []string) (string, int) {
	dict := make(map[string]struct{}, len(dictionary))
	for _, w := range dictionary {
		dict[strings.ToLower(w)] = struct{}{}
	}

	changed := 0
	out := tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		if _, known := dict[strings.ToLower(token)]; known {
			return token
		}
		fixed := correctToken(token, dict)
		if fixed != token {
			changed++
		}
		return fixed
	})
	return out, changed
}

func correctToken(token string, dict map[string]struct{}) string {
	var letters, digits, upper int
	for _, r := range token {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}

	if letters > 0 && digits > 0 {
		if digits > letters {
			if fixed, ok := mapAll(token, toDigit, unicode.IsLetter); ok {
				return fixed
			}
			return token
		}
		table := toLower
		if upper == letters {
			table = toUpper
		}
		if fixed, ok := mapAll(token, table, unicode.IsDigit); ok {
			return fixed
		}
		return token
	}

	if len(dict) > 0 && letters > 0 {
		if _, known := dict[strings.ToLower(token)]; !known {
			candidate := strings.NewReplacer("rn", "m", "vv", "w", "cl", "d").Replace(token)
			if _, ok := dict[strings.ToLower(candidate)]; ok {
				return candidate
			}
		}
	}
	return token
}

// mapAll rewrites every rune matching pick through table. It fails if any
// picked rune has no mapping.
func mapAll(token string, table map[rune]rune, pick func(rune) bool) (string, bool) {
	var b strings.Builder
	for _, r := range token {
		if !pick(r) {
			b.WriteRune(r)
			continue
		}
		m, ok := table[r]
		if !ok {
			return token, false
		}
		b.WriteRune(m)
	}
	return b.String(), true
}
