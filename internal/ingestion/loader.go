package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/medquery-go/internal/rag"
)

// LoadDirectory reads every regular, non-hidden file directly inside dir as
// one document whose Source is the file name. Files are returned in name
// order so that chunk ids and index order are reproducible. PDF files are
// converted to plain text.
//
// Any unreadable file, undecodable text, or a directory with no documents
// fails with rag.ErrIngestion: the corpus is loaded completely or not at all.
func LoadDirectory(ctx context.Context, dir string) ([]rag.SourceDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read corpus dir %s: %w: %w", dir, rag.ErrIngestion, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]rag.SourceDocument, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("ingestion: no documents found in %s: %w", dir, rag.ErrIngestion)
	}
	return docs, nil
}

// LoadFile reads one corpus file.
func LoadFile(path string) (rag.SourceDocument, error) {
	name := filepath.Base(path)

	var text string
	var err error
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		text, err = readPDF(path)
	} else {
		text, err = readText(path)
	}
	if err != nil {
		return rag.SourceDocument{}, fmt.Errorf("ingestion: load %s: %w: %w", name, rag.ErrIngestion, err)
	}

	return rag.SourceDocument{
		Text:     text,
		Source:   name,
		Metadata: InferMetadata(name, text).Map(),
	}, nil
}

// readText reads a UTF-8 text file.
func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	return string(b), nil
}

// readPDF extracts the plain text of every page of a PDF file.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
