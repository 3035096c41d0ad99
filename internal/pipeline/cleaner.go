package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leadforge/leadforge/internal/domain/model"
)

// Cleaner normalizes raw workbook rows and guesses an email address for each
// lead from a per-domain format table.
type Cleaner struct {
	formats   map[string]string
	badEmails map[string]struct{}
	titler    cases.Caser
	logger    *slog.Logger
}

// NewCleaner builds a Cleaner. formats maps a company domain to a local-part
// pattern ({first}, {last}, {first_0} placeholders); badEmails lists known
// undeliverable addresses to drop outright.
func NewCleaner(formats map[string]string, badEmails []string, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	bad := make(map[string]struct{}, len(badEmails))
	for _, e := range badEmails {
		bad[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &Cleaner{
		formats:   formats,
		badEmails: bad,
		titler:    cases.Title(language.English),
		logger:    logger.With("component", "pipeline.cleaner"),
	}
}

// Clean drops incomplete and duplicate rows, normalizes casing, guesses an
// email per lead and removes leads whose guessed address is known bad.
func (c *Cleaner) Clean(leads []model.Lead) []model.Lead {
	out := make([]model.Lead, 0, len(leads))
	seen := make(map[string]struct{}, len(leads))

	for _, lead := range leads {
		if !lead.Complete() {
			continue
		}
		key := lead.DedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		lead.FirstName = c.titler.String(strings.ToLower(lead.FirstName))
		lead.LastName = c.titler.String(strings.ToLower(lead.LastName))
		lead.Company = c.titler.String(strings.ToLower(lead.Company))

		lead.Email = c.GuessEmail(lead)
		if _, bad := c.badEmails[strings.ToLower(lead.Email)]; bad {
			continue
		}
		out = append(out, lead)
	}
	return out
}

// GuessEmail derives an address from the format table when the lead's domain
// has a known pattern, otherwise falls back to first.last@domain.
func (c *Cleaner) GuessEmail(lead model.Lead) string {
	first := strings.ToLower(lead.FirstName)
	last := strings.ToLower(lead.LastName)
	domain := lead.Domain()

	if pattern, ok := c.formats[domain]; ok {
		return expandPattern(pattern, first, last, domain)
	}
	return fmt.Sprintf("%s.%s@%s", first, last, domain)
}

// expandPattern substitutes the known placeholders into a format pattern.
// Patterns without an @ are local parts and get @domain appended.
func expandPattern(pattern, first, last, domain string) string {
	firstInitial := ""
	if first != "" {
		firstInitial = first[:1]
	}
	expanded := strings.NewReplacer(
		"{first}", first,
		"{last}", last,
		"{first_0}", firstInitial,
		"{domain}", domain,
	).Replace(pattern)
	if !strings.Contains(expanded, "@") {
		expanded += "@" + domain
	}
	return expanded
}

// formatTable is the on-disk shape of the email format file: domain → pattern.
type formatTable map[string]string

// LoadEmailFormats reads the per-domain email format table from a JSON file.
// A missing path yields an empty table.
func LoadEmailFormats(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read email formats: %w", err)
	}
	var table formatTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse email formats: %w", err)
	}
	return table, nil
}

// LoadBadEmails reads the known-bad email list from a JSON file. Both a JSON
// array and an object keyed by address are accepted. A missing path yields an
// empty list.
func LoadBadEmails(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bad emails: %w", err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse bad emails: %w", err)
	}
	list = make([]string, 0, len(obj))
	for k := range obj {
		list = append(list, k)
	}
	return list, nil
}
