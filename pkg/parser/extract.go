// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parser

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/docqa/pkg/document"
)

// PDFExtractor yields one section per page with text.
type PDFExtractor struct{}

func (PDFExtractor) Extensions() []string { return []string{".pdf"} }

func (PDFExtractor) Extract(ctx context.Context, path string) ([]Section, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	var sections []Section
	for n := 1; n <= reader.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, Section{
			Text:     text,
			Metadata: map[string]string{document.MetaPage: strconv.Itoa(n)},
		})
	}
	return sections, nil
}

// OfficeExtractor reads Word documents and Excel workbooks.
type OfficeExtractor struct{}

func (OfficeExtractor) Extensions() []string { return []string{".docx", ".xlsx"} }

func (e OfficeExtractor) Extract(ctx context.Context, path string) ([]Section, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return e.workbook(ctx, path)
	}
	return e.word(path)
}

var (
	paragraphEnd = regexp.MustCompile(`</w:p>|<w:br/>|<w:tab/>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

func (OfficeExtractor) word(path string) ([]Section, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read Word document: %w", err)
	}
	defer doc.Close()

	raw := doc.Editable().GetContent()
	text := paragraphEnd.ReplaceAllStringFunc(raw, func(m string) string {
		if m == "<w:tab/>" {
			return "\t"
		}
		return "\n"
	})
	text = html.UnescapeString(xmlTag.ReplaceAllString(text, ""))

	return []Section{{Text: text}}, nil
}

func (OfficeExtractor) workbook(ctx context.Context, path string) ([]Section, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()

	var sections []Section
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}

		var sb strings.Builder
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				cells = append(cells, strings.TrimSpace(cell))
			}
			line := strings.TrimRight(strings.Join(cells, " | "), " |")
			if line != "" {
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		}
		if sb.Len() > 0 {
			sections = append(sections, Section{
				Text:     sb.String(),
				Metadata: map[string]string{document.MetaSheet: sheet},
			})
		}
	}
	return sections, nil
}

// TextExtractor reads plain-text formats as a single section.
type TextExtractor struct{}

func (TextExtractor) Extensions() []string {
	return []string{".txt", ".md", ".markdown", ".rst", ".csv", ".json", ".yaml", ".yml", ".log"}
}

func (TextExtractor) Extract(_ context.Context, path string) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []Section{{Text: strings.ToValidUTF8(string(data), "\uFFFD")}}, nil
}
