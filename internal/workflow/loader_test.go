package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkflowFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFromDirectory_MissingDirIsEmpty(t *testing.T) {
	defs, err := LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("expected no definitions, got %d", len(defs))
	}
}

func TestLoadFromDirectory_ParsesValidFile(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "digest.yaml", `
name: Morning digest
source: mail
destination: telegram
filter: news@letters.io
active: true
transformWithModel: true
targetChatId: "@digest"
`)

	defs, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	def := defs[0]
	if def.Name != "Morning digest" {
		t.Fatalf("expected name from file, got %q", def.Name)
	}
	if def.SourceService != "mail" || def.DestinationService != "telegram" {
		t.Fatalf("unexpected services: %q -> %q", def.SourceService, def.DestinationService)
	}
	if def.Filter != "news@letters.io" {
		t.Fatalf("unexpected filter: %q", def.Filter)
	}
	if !def.Active || !def.TransformWithModel {
		t.Fatal("expected boolean fields to parse")
	}
	if def.TargetChatID != "@digest" {
		t.Fatalf("unexpected chat target: %q", def.TargetChatID)
	}
}

func TestLoadFromDirectory_SkipsInvalidDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "good.yml", `
name: Good
source: mail
destination: telegram
targetChatId: "@chat"
`)
	writeWorkflowFile(t, dir, "bad-service.yaml", `
name: Bad service
source: mail
destination: slack
targetChatId: "@chat"
`)
	writeWorkflowFile(t, dir, "missing-target.yaml", `
name: Missing target
source: mail
destination: telegram
`)
	writeWorkflowFile(t, dir, "not-yaml.yaml", ":::{not yaml")

	defs, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected only the valid definition, got %d", len(defs))
	}
	if defs[0].Name != "Good" {
		t.Fatalf("expected Good to survive, got %q", defs[0].Name)
	}
}

func TestLoadFromDirectory_NameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "invoice-relay.yaml", `
source: mail
destination: telegram
targetChatId: "@billing"
`)

	defs, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "invoice-relay" {
		t.Fatalf("expected name from filename, got %q", defs[0].Name)
	}
}

func TestLoadFromDirectory_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "README.md", "# not a workflow")
	writeWorkflowFile(t, dir, "notes.txt", "name: Sneaky")

	defs, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("expected non-yaml files to be ignored, got %d definitions", len(defs))
	}
}

func TestLoadFromDirectory_MailDestinationNeedsRecipient(t *testing.T) {
	dir := t.TempDir()
	writeWorkflowFile(t, dir, "archive.yaml", `
name: Archive
source: telegram
destination: mail
`)
	writeWorkflowFile(t, dir, "archive-ok.yaml", `
name: Archive OK
source: telegram
destination: mail
targetRecipient: archive@corp.example
`)

	defs, err := LoadFromDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "Archive OK" {
		t.Fatalf("expected the recipient-bearing file to load, got %q", defs[0].Name)
	}
}
