package silver

import (
	"fmt"
	"strings"

	"PMCMirror/internal/domain"
)

// affiliationTable deduplicates institutions by whitespace-normalized text.
type affiliationTable struct {
	ids     map[string]string
	records []domain.AffiliationRecord
}

func newAffiliationTable() *affiliationTable {
	return &affiliationTable{ids: map[string]string{}}
}

// add returns the table id for institution, allocating aff1..n in first-seen order.
func (t *affiliationTable) add(institution string) (string, bool) {
	key := strings.Join(strings.Fields(institution), " ")
	if key == "" {
		return "", false
	}
	if id, ok := t.ids[key]; ok {
		return id, true
	}
	id := fmt.Sprintf("aff%d", len(t.records)+1)
	t.ids[key] = id
	t.records = append(t.records, domain.AffiliationRecord{ID: id, Institution: key})
	return id, true
}

// ResolveAffiliations rewrites author affiliation references to ids in a
// per-document table. References to unknown XML ids are kept on the author as
// unresolved and counted.
func ResolveAffiliations(doc *domain.ParsedDocument) ([]domain.SilverAuthor, []domain.AffiliationRecord, int) {
	table := newAffiliationTable()
	authors := make([]domain.SilverAuthor, 0, len(doc.Authors))
	unresolvedRefs := 0

	for _, a := range doc.Authors {
		sa := domain.SilverAuthor{
			Name:           a.Name,
			Surname:        a.Surname,
			GivenNames:     a.GivenNames,
			AffiliationIDs: []string{},
		}
		seen := map[string]bool{}
		link := func(institution string) {
			if id, ok := table.add(institution); ok && !seen[id] {
				seen[id] = true
				sa.AffiliationIDs = append(sa.AffiliationIDs, id)
			}
		}

		for _, rid := range a.AffiliationRefs {
			institution, ok := doc.Affiliation(rid)
			if !ok {
				sa.UnresolvedRefs = append(sa.UnresolvedRefs, rid)
				unresolvedRefs++
				continue
			}
			link(institution)
		}
		for _, inline := range a.InlineAffiliations {
			link(inline)
		}
		authors = append(authors, sa)
	}

	// Affiliations nobody references still belong to the document.
	for _, aff := range doc.Affiliations {
		table.add(aff.Institution)
	}

	records := table.records
	if records == nil {
		records = []domain.AffiliationRecord{}
	}
	return authors, records, unresolvedRefs
}
