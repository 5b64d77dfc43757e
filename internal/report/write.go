package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/logging"
)

const (
	bannerColumnWidth = 60
	reportFilePerm    = 0o644
)

// Write renders doc to w in the given format.
func Write(w io.Writer, format Format, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("cannot write nil report")
	}
	switch format {
	case FormatTable, "":
		return WriteTable(w, doc)
	case FormatJSON:
		return WriteJSON(w, doc)
	case FormatXML:
		return WriteXML(w, doc)
	default:
		return errors.NewConfigFieldError(errors.CodeConfiguration, "unknown output format", "output", string(format))
	}
}

// WriteTable renders one row per target followed by a summary line.
func WriteTable(w io.Writer, doc *Document) error {
	table := tablewriter.NewWriter(w)
	table.Header("Target", "Alive", "Reason", "Banner")

	for i := range doc.Targets {
		rec := &doc.Targets[i]
		_ = table.Append([]string{
			rec.Address(),
			strconv.FormatBool(rec.Alive),
			rec.Reason,
			truncate(rec.Banner, bannerColumnWidth),
		})
	}

	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, doc.Summary().String())
	return err
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

// WriteXML writes doc as an indented XML document with header.
func WriteXML(w io.Writer, doc *Document) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write XML header: %w", err)
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encode XML: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Save writes doc to path. A ".json" or ".xml" extension picks the format;
// anything else is written as a table.
func Save(doc *Document, path string) error {
	if err := validateFilePath(path); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, reportFilePerm) //nolint:gosec // path is validated by validateFilePath
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close report file", "path", path, "error", err)
		}
	}()

	return Write(file, FormatForPath(path), doc)
}

// Load reads a report written by Save in JSON or XML form.
func Load(path string) (*Document, error) {
	if err := validateFilePath(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is validated by validateFilePath
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}

	var doc Document
	switch FormatForPath(path) {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatXML:
		err = xml.Unmarshal(data, &doc)
	default:
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			"only json and xml reports can be loaded", "path", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode report %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// FormatForPath infers a format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".xml":
		return FormatXML
	default:
		return FormatTable
	}
}

func validateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewConfigFieldError(errors.CodeValidation, "empty report path", "path", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return errors.NewConfigFieldError(errors.CodeValidation, "path contains directory traversal", "path", path)
		}
	}
	return nil
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
