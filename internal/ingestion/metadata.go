package ingestion

import (
	"path/filepath"
	"strings"

	"github.com/54b3r/medquery-go/internal/tokenize"
)

// InferredMetadata holds the format, title and specialty inferred from a
// corpus file. It is best-effort: files that match nothing get sensible
// defaults ("text", the file stem, "general").
type InferredMetadata struct {
	// Format is the file format (text, markdown, pdf).
	Format string
	// Title is the first heading or first non-empty line of the document.
	Title string
	// Specialty is the medical field the document most likely covers.
	Specialty string
}

// formatByExt maps file extensions to the format label.
var formatByExt = map[string]string{
	".txt":      "text",
	".text":     "text",
	".md":       "markdown",
	".markdown": "markdown",
	".pdf":      "pdf",
}

// specialtyKeywords maps a term to the specialty it signals. Terms are
// matched against the tokenized file name and title.
var specialtyKeywords = map[string]string{
	"diabetes":     "endocrinology",
	"insulin":      "endocrinology",
	"thyroid":      "endocrinology",
	"glucose":      "endocrinology",
	"hypertension": "cardiology",
	"cardiac":      "cardiology",
	"heart":        "cardiology",
	"cholesterol":  "cardiology",
	"stroke":       "neurology",
	"migraine":     "neurology",
	"epilepsy":     "neurology",
	"asthma":       "pulmonology",
	"copd":         "pulmonology",
	"lung":         "pulmonology",
	"pneumonia":    "pulmonology",
	"depression":   "psychiatry",
	"anxiety":      "psychiatry",
	"cancer":       "oncology",
	"tumor":        "oncology",
	"arthritis":    "rheumatology",
	"kidney":       "nephrology",
	"renal":        "nephrology",
	"pregnancy":    "obstetrics",
	"vaccine":      "immunology",
	"allergy":      "immunology",
	"nutrition":    "wellness",
	"exercise":     "wellness",
	"sleep":        "wellness",
}

// maxTitleRunes bounds the inferred title.
const maxTitleRunes = 120

// InferMetadata inspects a corpus file name and its extracted text and
// returns best-effort metadata.
func InferMetadata(fileName, text string) InferredMetadata {
	ext := strings.ToLower(filepath.Ext(fileName))
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))

	m := InferredMetadata{
		Format:    "text",
		Title:     stem,
		Specialty: "general",
	}
	if f, ok := formatByExt[ext]; ok {
		m.Format = f
	}
	if title := inferTitle(text); title != "" {
		m.Title = title
	}

	// The file name is a stronger signal than the title, so it is checked first.
	for _, s := range []string{stem, m.Title} {
		for _, w := range tokenize.Words(s) {
			if sp, ok := specialtyKeywords[w]; ok {
				m.Specialty = sp
				return m
			}
		}
	}
	return m
}

// Map renders m as chunk metadata.
func (m InferredMetadata) Map() map[string]string {
	return map[string]string{
		"format":    m.Format,
		"title":     m.Title,
		"specialty": m.Specialty,
	}
}

// inferTitle returns the first markdown heading, or failing that the first
// non-empty line, truncated.
func inferTitle(text string) string {
	var first string
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return truncate(strings.TrimSpace(strings.TrimLeft(line, "#")))
		}
		if first == "" {
			first = line
		}
	}
	return truncate(first)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxTitleRunes {
		return strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}
