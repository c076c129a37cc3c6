package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/concierge"
)

const policiesDoc = `# Company Procedures

## Vacation and Leave

Employees accrue 20 days of paid vacation per year. Vacation requests must be
submitted through the HR portal at least two weeks in advance and approved by
the direct manager.

## Sick Leave

Sick leave requires a doctor's note after three consecutive days of absence.
Notify your manager before 10:00 on the first day.
`

const styleDoc = `# Coding Style Guide

## General Principles

Prefer clarity over cleverness. All exported functions carry documentation and
every change lands with tests. Continuous integration enforces the linters.
`

func testCorpus(t *testing.T, opts ...Option) *Corpus {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"company_procedures.md": policiesDoc,
		"coding_style.md":       styleDoc,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	c, err := Load(dir, opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestLoad(t *testing.T) {
	c := testCorpus(t)
	if c.Len() != 2 {
		t.Fatalf("loaded %d documents, want 2", c.Len())
	}
	doc, ok := c.Get("company_procedures.md")
	if !ok {
		t.Fatal("company_procedures.md not loaded")
	}
	if doc.Name != "Company Procedures" {
		t.Errorf("display name = %q", doc.Name)
	}
	if strings.Contains(doc.Content, "#") {
		t.Errorf("markdown markers not stripped: %q", doc.Content[:60])
	}
	if !strings.Contains(doc.Content, "20 days of paid vacation") {
		t.Error("content lost during markdown stripping")
	}
}

func TestLoadMissingDir(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir must not error, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty corpus, got %d docs", c.Len())
	}

	ev, err := c.Fetch(context.Background(), "vacation policy", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("Fetch on empty corpus: %v", err)
	}
	if ev.Found {
		t.Error("empty corpus must yield not-found evidence")
	}
}

func TestSummariesPrompt(t *testing.T) {
	c := testCorpus(t, WithSummaries(map[string]string{
		"coding_style.md": "Engineering style rules.",
	}))
	prompt := c.SummariesPrompt()
	if !strings.Contains(prompt, "coding_style.md: Engineering style rules.") {
		t.Errorf("curated summary missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "company_procedures.md:") {
		t.Errorf("derived summary missing from prompt:\n%s", prompt)
	}
}

func TestFetchRoutedDocument(t *testing.T) {
	c := testCorpus(t)
	ev, err := c.Fetch(context.Background(), "vacation", concierge.RoutingDecision{
		Action:   concierge.ActionKnowledgeBase,
		Document: "company_procedures.md",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !ev.Found {
		t.Fatal("expected evidence for routed document")
	}
	if ev.Source != "Company Procedures" {
		t.Errorf("source = %q", ev.Source)
	}
	if !strings.Contains(ev.Content, "two weeks in advance") {
		t.Error("routed document content truncated")
	}
}

func TestFetchUnknownDocument(t *testing.T) {
	c := testCorpus(t)
	ev, err := c.Fetch(context.Background(), "vacation", concierge.RoutingDecision{
		Document: "does_not_exist.md",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ev.Found {
		t.Error("unknown document must degrade to not-found, not error")
	}
}

func TestFetchByRelevance(t *testing.T) {
	c := testCorpus(t)
	ev, err := c.Fetch(context.Background(), "how many vacation days per year", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !ev.Found {
		t.Fatal("expected a section above the relevance floor")
	}
	if !strings.Contains(ev.Content, "20 days") {
		t.Errorf("wrong section selected: %q", ev.Content)
	}
}

func TestFetchBelowFloor(t *testing.T) {
	c := testCorpus(t)
	ev, err := c.Fetch(context.Background(), "quarterly basketball tournament schedule", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ev.Found {
		t.Errorf("irrelevant query must be not-found, got %q", ev.Content)
	}
}

func TestMarkdownToText(t *testing.T) {
	got := markdownToText([]byte("# Title\n\nSome **bold** and [link](https://x.test) text.\n\n- item one\n- item two\n"))
	for _, want := range []string{"Title", "Some bold and link text.", "item one"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	for _, banned := range []string{"**", "](", "# "} {
		if strings.Contains(got, banned) {
			t.Errorf("marker %q survived stripping:\n%s", banned, got)
		}
	}
}
