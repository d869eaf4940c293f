package plate

// Weights control the candidate ranking factors. They should sum to 1.
type Weights struct {
	OCRConfidence float64
	BoxArea       float64
	Centrality    float64
	Length        float64
}

// Pattern is a regional plate layout, one class letter per position:
// 'L' expects a letter, 'D' expects a digit.
type Pattern struct {
	Name   string
	Layout string
	Region string
}

func (p Pattern) length() int { return len(p.Layout) }

// Rules is the static scoring configuration: blacklist of non-plate tokens,
// ranking weights, regional patterns and the character confusion map.
// Read-only at runtime.
type Rules struct {
	Blacklist []string
	Weights   Weights
	Patterns  []Pattern
	MinLength int
	MaxLength int

	// toDigit maps letters to the digit they are commonly misread as,
	// toLetter the reverse direction.
	toDigit  map[byte]byte
	toLetter map[byte]byte
}

// DefaultRules returns the built-in US-oriented rule set.
func DefaultRules() Rules {
	r := Rules{
		Blacklist: []string{
			"TEXAS", "CALIFORNIA", "FLORIDA", "ARIZONA", "NEVADA",
			"LONE STAR", "SUNSHINE", "GRAND CANYON", "GOLDEN",
			"DEALER", "MOTORS", "AUTO", "SALES", "USA",
		},
		Weights: Weights{
			OCRConfidence: 0.40,
			BoxArea:       0.30,
			Centrality:    0.15,
			Length:        0.15,
		},
		Patterns: []Pattern{
			{Name: "tx-standard", Layout: "LLLDDDD", Region: "TX"},
			{Name: "tx-classic", Layout: "LLLDDDL", Region: "TX"},
			{Name: "ca-standard", Layout: "DLLLDDD", Region: "CA"},
			{Name: "fl-standard", Layout: "LLLDDDD", Region: "FL"},
			{Name: "us-legacy", Layout: "DDDLLL", Region: ""},
			{Name: "us-numeric", Layout: "LLDDDDD", Region: ""},
		},
		MinLength: 5,
		MaxLength: 8,
	}
	r.buildConfusions()
	return r
}

var confusionPairs = []struct{ letter, digit byte }{
	{'I', '1'},
	{'O', '0'},
	{'Q', '0'},
	{'B', '8'},
	{'S', '5'},
	{'Z', '2'},
	{'G', '6'},
}

func (r *Rules) buildConfusions() {
	r.toDigit = make(map[byte]byte, len(confusionPairs))
	r.toLetter = make(map[byte]byte, len(confusionPairs))
	for _, p := range confusionPairs {
		r.toDigit[p.letter] = p.digit
		if _, dup := r.toLetter[p.digit]; !dup {
			r.toLetter[p.digit] = p.letter
		}
	}
}

// patternsFor returns the patterns applicable to a region hint; an empty
// hint allows every configured pattern.
func (r *Rules) patternsFor(region string) []Pattern {
	if region == "" {
		return r.Patterns
	}
	var out []Pattern
	for _, p := range r.Patterns {
		if p.Region == "" || p.Region == region {
			out = append(out, p)
		}
	}
	return out
}

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

func matchesClass(layout byte, c byte) bool {
	switch layout {
	case 'L':
		return isLetter(c)
	case 'D':
		return isDigit(c)
	}
	return false
}
