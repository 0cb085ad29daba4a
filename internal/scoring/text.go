package scoring

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// techSkills is the catalog used to derive skills from free text.
var techSkills = []string{
	// languages
	"python", "java", "javascript", "typescript", "c++", "c#", "go", "golang",
	"rust", "ruby", "php", "swift", "kotlin", "scala", "r", "matlab", "perl",
	"sql", "html", "css", "bash", "shell", "powershell",
	// frameworks
	"react", "angular", "vue", "next.js", "nextjs", "node.js", "nodejs",
	"django", "flask", "fastapi", "spring", "express", ".net", "dotnet",
	"rails", "laravel", "svelte", "remix", "gatsby",
	// cloud and infra
	"aws", "azure", "gcp", "google cloud", "docker", "kubernetes", "k8s",
	"terraform", "ansible", "jenkins", "github actions", "ci/cd", "cicd",
	"linux", "nginx", "apache",
	// data and ml
	"machine learning", "deep learning", "nlp", "computer vision",
	"tensorflow", "pytorch", "scikit-learn", "pandas", "numpy", "spark",
	"hadoop", "airflow", "kafka", "elasticsearch",
	// databases
	"postgresql", "postgres", "mysql", "mongodb", "redis", "cassandra",
	"dynamodb", "sqlite", "oracle", "sql server",
	// practices
	"git", "agile", "scrum", "rest", "graphql", "grpc", "microservices",
	"api", "devops", "sre", "tdd", "unit testing",
}

var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
	"of", "with", "by", "from", "is", "are", "was", "were", "be", "been",
	"being", "have", "has", "had", "do", "does", "did", "will", "would",
	"could", "should", "may", "might", "can", "shall", "this", "that",
	"these", "those", "i", "you", "he", "she", "it", "we", "they", "me",
	"him", "her", "us", "them", "my", "your", "his", "its", "our", "their",
	"not", "no", "nor", "so", "if", "then", "than", "too", "very", "just",
	"about", "up", "out", "all", "also", "as", "into", "over", "after",
	"before", "between", "through", "during", "above", "below", "each",
	"few", "more", "most", "other", "some", "such", "only", "own", "same",
	"when", "where", "how", "what", "which", "who", "whom", "why",
	"work", "experience", "team", "company", "role", "ability",
)

var (
	titlePrefixes = []string{"senior ", "sr. ", "sr ", "junior ", "jr. ", "jr ", "lead ", "staff ", "principal "}
	titleSuffixes = []string{" i", " ii", " iii", " iv", " v"}

	keywordPattern = regexp.MustCompile(`\b[a-z][a-z+#.]{1,30}\b`)

	experiencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)\+?\s*(?:years?|yrs?)\s*(?:of\s*)?(?:experience|exp)`),
		regexp.MustCompile(`(?:experience|exp)\s*(?:of\s*)?(\d+)\+?\s*(?:years?|yrs?)`),
		regexp.MustCompile(`(\d+)\+?\s*(?:years?|yrs?)`),
	}
)

// ContainsSkill reports whether skill occurs in the lower-cased text.
// Skills of two characters or fewer must stand on word boundaries so that
// "r" does not match inside "are".
func ContainsSkill(text, skill string) bool {
	if skill == "" {
		return false
	}
	if len(skill) > 2 {
		return strings.Contains(text, skill)
	}

	for offset := 0; offset <= len(text)-len(skill); {
		idx := strings.Index(text[offset:], skill)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(skill)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

// ExtractSkills returns the catalog skills found in text, sorted.
func ExtractSkills(text string) []string {
	text = strings.ToLower(text)
	found := make([]string, 0)
	for _, skill := range techSkills {
		if ContainsSkill(text, skill) {
			found = append(found, skill)
		}
	}
	sort.Strings(found)
	return found
}

// ExtractKeywords returns up to topN words ranked by frequency, ties broken by
// first occurrence. Stop words are skipped.
func ExtractKeywords(text string, topN int) []string {
	if topN <= 0 {
		return nil
	}

	words := keywordPattern.FindAllString(strings.ToLower(text), -1)
	counts := make(map[string]int, len(words))
	order := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := stopWords[w]; skip {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// NormalizeTitle strips seniority prefixes and level suffixes.
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	for _, prefix := range titlePrefixes {
		title = strings.TrimPrefix(title, prefix)
	}
	for _, suffix := range titleSuffixes {
		title = strings.TrimSuffix(title, suffix)
	}
	return strings.TrimSpace(title)
}

// TitleSimilarity is |common words| / max(|words1|, |words2|) over normalized titles.
func TitleSimilarity(a, b string) float64 {
	t1 := NormalizeTitle(a)
	t2 := NormalizeTitle(b)
	if t1 == t2 {
		return 1.0
	}

	w1 := toSet(strings.Fields(t1)...)
	w2 := toSet(strings.Fields(t2)...)
	if len(w1) == 0 || len(w2) == 0 {
		return 0.0
	}

	common := 0
	for w := range w1 {
		if _, ok := w2[w]; ok {
			common++
		}
	}
	return float64(common) / float64(max(len(w1), len(w2)))
}

// ExtractYearsExperience finds a years-of-experience requirement such as "5+ years".
func ExtractYearsExperience(text string) (int, bool) {
	text = strings.ToLower(text)
	for _, pattern := range experiencePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		years, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return years, true
	}
	return 0, false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
