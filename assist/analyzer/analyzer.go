// Package analyzer derives shopping intent and entities from a shopper's
// utterance. The rule-based strategy is a heuristic, kept behind the Analyzer
// interface so it can be swapped without touching the engine.
package analyzer

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is the coarse classification of one utterance.
type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentSearch         Intent = "search"
	IntentComparison     Intent = "comparison"
	IntentPriceInquiry   Intent = "price_inquiry"
	IntentFeatureInquiry Intent = "feature_inquiry"
	IntentHelp           Intent = "help"
	IntentOther          Intent = "other"
)

// PriceRange holds extracted price bounds. Nil pointer means unbounded.
type PriceRange struct {
	Min *float64
	Max *float64
}

// Result is the structured analysis of one utterance.
type Result struct {
	Intent         Intent
	Confidence     float64 // [0,1]
	SearchQuery    string
	Product        string
	Category       string
	Brand          string
	PriceRange     *PriceRange
	SuggestedStage string
	Keywords       []string
	ShouldSearch   bool
}

// Context is the running conversation context a follow-up turn inherits.
// "o mais barato" keeps searching the previous category.
type Context struct {
	LastProduct  string
	LastCategory string
	LastBrand    string
	Stage        string
}

// Analyzer extracts a Result from an utterance plus prior context.
type Analyzer interface {
	Analyze(text string, prior Context) Result
}

// Intent patterns, tested in order; first match wins. The storefront serves
// Ciudad del Este shoppers, so patterns cover Portuguese and English.
var (
	greetingRegex = regexp.MustCompile(`(?i)^\s*(oi|ol[áa]|opa|e\s*a[íi]|bom dia|boa tarde|boa noite|hello|hi|hey)[\s!.,]*$`)
	searchRegex   = regexp.MustCompile(`(?i)(procur|busca|buscando|quero|queria|preciso|t[êe]m\s|me mostra|me v[êe]|estou atr[áa]s|search|looking for|find me|i want|i need|show me)`)
	compareRegex  = regexp.MustCompile(`(?i)(compar|diferen[çc]a|versus|\bvs\b|qual\s+[^?]{0,30}melhor|melhor\s+que|compare|difference|which is better)`)
	priceRegex    = regexp.MustCompile(`(?i)(pre[çc]o|quanto custa|quanto sai|quanto fica|valor|mais barato|barat[oa]|car[oa]\b|desconto|price|how much|cheap|discount)`)
	featureRegex  = regexp.MustCompile(`(?i)(caracter[íi]stica|especifica[çc]|ficha t[ée]cnica|detalhes|mem[óo]ria|bateria|tela de|armazenamento|\bspecs?\b|features?\b)`)
	helpRegex     = regexp.MustCompile(`(?i)(ajuda|me ajude|como funciona|n[ãa]o sei|help|how do i)`)
)

// Entity patterns, independent of intent.
var (
	productRegex = regexp.MustCompile(`(?i)\b(iphone|galaxy|redmi|macbook|notebook|laptop|ipad|tablet|drone|perfume|playstation|xbox|nintendo|airpods|fone|caixa de som|smartwatch|rel[óo]gio|c[âa]mera|camera|console|celular|smartphone|whisky|tv)\b`)
	modelRegex   = regexp.MustCompile(`^(?:de\s+)?([a-z]*\d[a-z0-9]*|pro|max|plus|mini|air|ultra)$`)
	numberRegex  = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	maxBoundRegex = regexp.MustCompile(`(?i)(at[ée]|no m[áa]ximo|menos de|abaixo de|up to|at most|under)\s*(?:r?\$|usd|us\$)?\s*(\d+(?:[.,]\d+)?)`)
	minBoundRegex = regexp.MustCompile(`(?i)(a partir de|desde|acima de|mais de|pelo menos|from|at least|over)\s*(?:r?\$|usd|us\$)?\s*(\d+(?:[.,]\d+)?)`)
)

// categoryPatterns maps keyword patterns onto canonical catalog categories.
var categoryPatterns = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`(?i)\b(celular|smartphone|iphone|galaxy|redmi|xiaomi)\b`), "smartphones"},
	{regexp.MustCompile(`(?i)\b(notebook|laptop|macbook)\b`), "notebooks"},
	{regexp.MustCompile(`(?i)\b(tablet|ipad)\b`), "tablets"},
	{regexp.MustCompile(`(?i)\b(perfume|fragr[âa]ncia)\b`), "perfumes"},
	{regexp.MustCompile(`(?i)\b(drone)\b`), "drones"},
	{regexp.MustCompile(`(?i)\b(tv|televis[ãa]o|smart tv)\b`), "tvs"},
	{regexp.MustCompile(`(?i)\b(fone|headphone|airpods|earbuds|caixa de som|speaker)\b`), "audio"},
	{regexp.MustCompile(`(?i)\b(rel[óo]gio|smartwatch|watch)\b`), "relogios"},
	{regexp.MustCompile(`(?i)\b(c[âa]mera|camera|gopro)\b`), "cameras"},
	{regexp.MustCompile(`(?i)\b(console|playstation|xbox|nintendo|videogame)\b`), "games"},
	{regexp.MustCompile(`(?i)\b(whisky|vinho|bebida|licor)\b`), "bebidas"},
}

// knownBrands are matched as whole words, case-insensitively.
var knownBrands = []string{
	"Apple", "Samsung", "Xiaomi", "Motorola", "JBL", "Sony", "LG", "DJI",
	"Dell", "Lenovo", "Asus", "HP", "GoPro", "Garmin", "Rolex", "Invicta",
	"Nike", "Adidas", "Philips", "Nikon", "Canon",
}

// stopwords excluded from content-word extraction.
var stopwords = map[string]bool{
	"para": true, "pela": true, "pelo": true, "com": true, "que": true,
	"uma": true, "não": true, "nao": true, "mais": true, "menos": true,
	"este": true, "esta": true, "esse": true, "essa": true, "aqui": true,
	"quero": true, "queria": true, "preciso": true, "tem": true, "você": true,
	"voce": true, "vocês": true, "voces": true, "the": true, "and": true,
	"for": true, "you": true, "have": true, "want": true, "need": true,
	"with": true, "this": true, "that": true, "what": true, "about": true,
}

// stageByIntent maps intents onto the funnel stage the session should move to.
var stageByIntent = map[Intent]string{
	IntentGreeting:       "discovery",
	IntentSearch:         "exploration",
	IntentComparison:     "comparison",
	IntentPriceInquiry:   "decision",
	IntentFeatureInquiry: "consideration",
	IntentHelp:           "support",
}

// RuleAnalyzer is the regex rule strategy. Stateless and safe for concurrent
// use; all patterns are pre-compiled at package load.
type RuleAnalyzer struct{}

// NewRuleAnalyzer creates the default rule-based analyzer.
func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{}
}

// Analyze is a pure function of (utterance, prior context).
func (a *RuleAnalyzer) Analyze(text string, prior Context) Result {
	res := Result{Intent: classifyIntent(text)}

	res.Product = extractProduct(text)
	res.Category = extractCategory(text)
	res.Brand = extractBrand(text)
	// Model numbers inside the product term must not be read as prices.
	priceText := text
	if res.Product != "" {
		priceText = strings.Replace(strings.ToLower(priceText), strings.ToLower(res.Product), "", 1)
	}
	res.PriceRange = extractPriceRange(priceText)

	// A bare product or category mention ("iPhone 15 em CDE") is a search
	// even without an explicit search verb.
	if res.Intent == IntentOther && (res.Product != "" || res.Category != "") {
		res.Intent = IntentSearch
	}

	res.Keywords = contentWords(text)
	res.SearchQuery = buildSearchQuery(res, prior)
	res.ShouldSearch = shouldSearch(res)
	res.Confidence = confidence(res)

	if stage, ok := stageByIntent[res.Intent]; ok {
		res.SuggestedStage = stage
	} else {
		res.SuggestedStage = prior.Stage
	}
	return res
}

// classifyIntent tests the ordered category patterns; first match wins.
func classifyIntent(text string) Intent {
	switch {
	case greetingRegex.MatchString(text):
		return IntentGreeting
	case searchRegex.MatchString(text):
		return IntentSearch
	case compareRegex.MatchString(text):
		return IntentComparison
	case priceRegex.MatchString(text):
		return IntentPriceInquiry
	case featureRegex.MatchString(text):
		return IntentFeatureInquiry
	case helpRegex.MatchString(text):
		return IntentHelp
	default:
		return IntentOther
	}
}

// extractProduct finds a product noun plus up to two trailing model tokens,
// e.g. "iphone 15", "galaxy s24 ultra".
func extractProduct(text string) string {
	loc := productRegex.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	product := strings.ToLower(text[loc[0]:loc[1]])

	rest := strings.Fields(strings.ToLower(text[loc[1]:]))
	for i := 0; i < len(rest) && i < 2; i++ {
		m := modelRegex.FindStringSubmatch(rest[i])
		if m == nil {
			break
		}
		product += " " + m[1]
	}
	return product
}

func extractCategory(text string) string {
	for _, cp := range categoryPatterns {
		if cp.re.MatchString(text) {
			return cp.category
		}
	}
	return ""
}

func extractBrand(text string) string {
	lower := strings.ToLower(text)
	for _, brand := range knownBrands {
		if containsWord(lower, strings.ToLower(brand)) {
			return brand
		}
	}
	return ""
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// extractPriceRange applies the bound rules: a qualified single number sets
// one bound; two or more numbers set both (lowest → min, highest → max).
func extractPriceRange(text string) *PriceRange {
	numbers := numberRegex.FindAllString(text, -1)
	if len(numbers) >= 2 {
		values := make([]float64, 0, len(numbers))
		for _, n := range numbers {
			values = append(values, parseAmount(n))
		}
		lo, hi := values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		return &PriceRange{Min: &lo, Max: &hi}
	}

	if m := maxBoundRegex.FindStringSubmatch(text); m != nil {
		v := parseAmount(m[2])
		return &PriceRange{Max: &v}
	}
	if m := minBoundRegex.FindStringSubmatch(text); m != nil {
		v := parseAmount(m[2])
		return &PriceRange{Min: &v}
	}
	return nil
}

func parseAmount(s string) float64 {
	s = strings.ReplaceAll(s, ",", ".")
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// contentWords returns lowercased words longer than three characters, minus
// stopwords, preserving order and dropping duplicates.
func contentWords(text string) []string {
	seen := map[string]bool{}
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()\"'")
		if len([]rune(w)) <= 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	if len(words) > 8 {
		words = words[:8]
	}
	return words
}

// buildSearchQuery concatenates extracted terms, falling back to the prior
// turn's context and finally to the utterance's content words.
func buildSearchQuery(res Result, prior Context) string {
	var terms []string
	if res.Product != "" {
		terms = append(terms, res.Product)
	}
	if res.Brand != "" && !strings.Contains(strings.ToLower(res.Product), strings.ToLower(res.Brand)) {
		terms = append(terms, res.Brand)
	}
	if res.Category != "" && res.Product == "" {
		terms = append(terms, res.Category)
	}
	if len(terms) > 0 {
		return strings.Join(terms, " ")
	}

	if prior.LastProduct != "" {
		return prior.LastProduct
	}
	if prior.LastCategory != "" {
		return prior.LastCategory
	}
	return strings.Join(res.Keywords, " ")
}

func shouldSearch(res Result) bool {
	switch res.Intent {
	case IntentSearch, IntentComparison, IntentPriceInquiry, IntentFeatureInquiry:
		return true
	}
	return res.Product != "" || res.Category != "" || res.Brand != "" || res.PriceRange != nil
}

// confidence is an additive score, clamped to 1.0.
func confidence(res Result) float64 {
	score := 0.5
	if res.Intent != IntentOther {
		score += 0.2
	}
	if res.Product != "" {
		score += 0.2
	}
	if res.Category != "" {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
