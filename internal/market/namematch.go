package market

import "strings"

// MinNameSimilarity is the lowest similarity percentage at which a fetched
// company name is still accepted as the same instrument.
const MinNameSimilarity = 40.0

var corporateSuffixes = map[string]struct{}{
	"inc": {}, "corp": {}, "ag": {}, "se": {}, "plc": {}, "ltd": {}, "s.a": {},
	"corporation": {}, "incorporated": {}, "limited": {}, "group": {}, "holdings": {},
}

// NameMatch is the outcome of comparing a stored company name with the one a
// provider returned.
type NameMatch struct {
	Accepted   bool
	Similarity float64
	Expected   string
	Fetched    string
}

// MatchNames compares the expected (stored) company name with a fetched one.
// Either name being blank is accepted: there is nothing to contradict.
func MatchNames(expected, fetched string) NameMatch {
	m := NameMatch{Expected: expected, Fetched: fetched, Similarity: 100}
	a, b := NormalizeCompanyName(expected), NormalizeCompanyName(fetched)
	if a == "" || b == "" || a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		m.Accepted = true
		return m
	}
	m.Similarity = SimilarityPercent(a, b)
	m.Accepted = m.Similarity >= MinNameSimilarity
	return m
}

// NormalizeCompanyName lower-cases a name and drops corporate-form words
// ("Inc", "PLC", "S.A." ...). Only whole words are dropped, so "Agilent"
// keeps its "ag".
func NormalizeCompanyName(name string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	kept := words[:0]
	for i, w := range words {
		if i > 0 {
			if _, ok := corporateSuffixes[strings.TrimRight(w, ",.")]; ok {
				continue
			}
		}
		kept = append(kept, w)
	}
	return strings.TrimRight(strings.Join(kept, " "), ",")
}

// SimilarityPercent returns 2*common/(len(a)+len(b))*100 where common is the
// sum of recursively matched longest common substrings.
func SimilarityPercent(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return float64(commonChars(ra, rb)) * 2 * 100 / float64(total)
}

func commonChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	posA, posB, best := 0, 0, 0
	for i := range a {
		for j := range b {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > best {
				posA, posB, best = i, j, k
			}
		}
	}
	if best == 0 {
		return 0
	}
	return best + commonChars(a[:posA], b[:posB]) + commonChars(a[posA+best:], b[posB+best:])
}
