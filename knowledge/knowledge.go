// Package knowledge loads the static company document corpus and serves as
// the evidence provider for the knowledge_base action.
//
// Documents are markdown or PDF files in a flat directory. Search is
// keyword-overlap scoring over paragraph-level sections with a relevance
// floor — deliberately no embeddings, the corpus is small and curated.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nevindra/concierge"
)

// Document is one corpus entry.
type Document struct {
	Name     string // display name derived from the filename
	Filename string
	Content  string // plain text (markdown stripped, PDF extracted)
	Summary  string
}

// Option configures a Corpus.
type Option func(*Corpus)

// WithSummaries sets curated per-filename summaries shown to the router.
// Files without an entry fall back to their first paragraph.
func WithSummaries(summaries map[string]string) Option {
	return func(c *Corpus) { c.summaries = summaries }
}

// WithMinScore sets the relevance floor for Search (default: 0.25).
// Sections scoring below it are treated as not-found.
func WithMinScore(score float64) Option {
	return func(c *Corpus) { c.minScore = score }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Corpus) { c.logger = l }
}

// Corpus is the loaded document set. Immutable after Load; safe for
// concurrent use.
type Corpus struct {
	docs      map[string]Document
	order     []string // filenames in load order, for stable prompts
	summaries map[string]string
	minScore  float64
	logger    *slog.Logger
}

var _ concierge.EvidenceProvider = (*Corpus)(nil)

// Load reads every .md and .pdf file in dir. A missing or empty directory
// yields an empty corpus, not an error — search then degrades to not-found.
func Load(dir string, opts ...Option) (*Corpus, error) {
	c := &Corpus{
		docs:     make(map[string]Document),
		minScore: 0.25,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn("knowledge base directory missing", "dir", dir)
			return c, nil
		}
		return nil, fmt.Errorf("read knowledge dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()
		path := filepath.Join(dir, filename)

		var content string
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".md":
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", filename, err)
			}
			content = markdownToText(raw)
		case ".pdf":
			content, err = pdfToText(path)
			if err != nil {
				c.logger.Warn("skipping unreadable pdf", "file", filename, "error", err)
				continue
			}
		default:
			continue
		}

		doc := Document{
			Name:     docName(filename),
			Filename: filename,
			Content:  content,
			Summary:  c.summaryFor(filename, content),
		}
		c.docs[filename] = doc
		c.order = append(c.order, filename)
	}

	c.logger.Debug("knowledge base loaded", "dir", dir, "documents", len(c.docs))
	return c, nil
}

// docName turns "company_policies.md" into "Company Policies".
func docName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	words := strings.Split(strings.ReplaceAll(stem, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// summaryFor returns the curated summary or the document's first paragraph.
func (c *Corpus) summaryFor(filename, content string) string {
	if s, ok := c.summaries[filename]; ok {
		return s
	}
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			if len(para) > 240 {
				para = para[:240] + "..."
			}
			return para
		}
	}
	return ""
}

// Len returns the number of loaded documents.
func (c *Corpus) Len() int { return len(c.docs) }

// Get returns a document by filename.
func (c *Corpus) Get(filename string) (Document, bool) {
	d, ok := c.docs[filename]
	return d, ok
}

// Filenames returns the loaded filenames in load order.
func (c *Corpus) Filenames() []string {
	return append([]string(nil), c.order...)
}

// SummariesPrompt formats the corpus for the routing prompt: one line per
// document with its summary, so the decision capability can pick a filename.
func (c *Corpus) SummariesPrompt() string {
	if len(c.order) == 0 {
		return "(no company documents available)"
	}
	var b strings.Builder
	b.WriteString("Available company documents:")
	for _, filename := range c.order {
		fmt.Fprintf(&b, "\n- %s: %s", filename, c.docs[filename].Summary)
	}
	return b.String()
}

// Name implements concierge.EvidenceProvider.
func (c *Corpus) Name() string { return "knowledge_base" }

// Fetch implements concierge.EvidenceProvider. When the routing decision
// names a document, the whole document is the evidence; otherwise the best
// matching section above the relevance floor is returned. An empty corpus or
// no match degrades to not-found, never an error.
func (c *Corpus) Fetch(_ context.Context, query string, decision concierge.RoutingDecision) (concierge.Evidence, error) {
	if decision.Document != "" {
		doc, ok := c.docs[decision.Document]
		if !ok {
			c.logger.Warn("routed document not in corpus", "document", decision.Document)
			return concierge.Evidence{}, nil
		}
		return concierge.Evidence{Found: true, Source: doc.Name, Content: doc.Content}, nil
	}

	section, doc, score := c.bestSection(query)
	if score < c.minScore {
		c.logger.Debug("no section above relevance floor", "best_score", score)
		return concierge.Evidence{}, nil
	}
	return concierge.Evidence{Found: true, Source: doc.Name, Content: section}, nil
}

// bestSection scores every paragraph-level section against the query and
// returns the best one.
func (c *Corpus) bestSection(query string) (section string, doc Document, score float64) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return "", Document{}, 0
	}

	for _, filename := range c.order {
		d := c.docs[filename]
		for _, sec := range sections(d.Content) {
			if s := overlapScore(terms, sec); s > score {
				section, doc, score = sec, d, s
			}
		}
	}
	return section, doc, score
}

// sections splits plain text into blank-line separated blocks, merging very
// short blocks (headings) into the following one.
func sections(content string) []string {
	blocks := strings.Split(content, "\n\n")
	var out []string
	var pending string
	for _, b := range blocks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if len(b) < 60 {
			// Likely a heading; keep it attached to its body.
			if pending != "" {
				pending += "\n"
			}
			pending += b
			continue
		}
		if pending != "" {
			b = pending + "\n" + b
			pending = ""
		}
		out = append(out, b)
	}
	if pending != "" {
		out = append(out, pending)
	}
	return out
}

// queryTerms lowercases and tokenizes the query, dropping short tokens.
func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "?!.,;:'\"()")
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	sort.Strings(terms)
	return terms
}

// overlapScore is the fraction of query terms present in the section.
func overlapScore(terms []string, section string) float64 {
	lower := strings.ToLower(section)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
