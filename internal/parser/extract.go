package parser

import (
	"strings"

	"PMCMirror/internal/domain"
)

var pmcIDTypes = []string{"pmc", "pmcid", "pmcaid"}

// extract reads article-level fields from one article tree. Unknown elements
// are ignored.
func extract(article *node) domain.ParsedDocument {
	meta := article.path("front", "article-meta")
	if meta == nil {
		meta = article.first("article-meta")
	}
	if meta == nil {
		meta = article
	}

	doc := domain.ParsedDocument{
		ArticleType:      strings.ToLower(article.attr("article-type")),
		JournalName:      journalName(article),
		Title:            meta.path("title-group", "article-title").text(),
		Abstract:         abstract(meta),
		BodySections:     bodySections(article.child("body")),
		PublicationDates: dates(meta),
		Keywords:         keywords(meta),
		License:          license(meta),
		RetractionStatus: retraction(article, meta),
	}
	if doc.Title == "" {
		doc.Title = meta.first("article-title").text()
	}

	ids := articleIDs(meta)
	for _, t := range pmcIDTypes {
		if id := ids[t]; id != "" {
			doc.DocumentID = domain.CanonicalDocumentID(id)
			break
		}
	}
	doc.PMID = ids["pmid"]
	doc.DOI = ids["doi"]

	doc.Affiliations = affiliations(meta)
	doc.Authors = authors(meta)
	doc.Funding = funding(article, meta)
	return doc
}

func articleIDs(meta *node) map[string]string {
	ids := map[string]string{}
	for _, n := range meta.find("article-id") {
		kind := strings.ToLower(n.attr("pub-id-type"))
		if kind == "" {
			continue
		}
		if _, seen := ids[kind]; seen {
			continue
		}
		if v := n.text(); v != "" {
			ids[kind] = v
		}
	}
	return ids
}

func journalName(article *node) string {
	jm := article.path("front", "journal-meta")
	if jm == nil {
		jm = article.first("journal-meta")
	}
	if title := jm.first("journal-title").text(); title != "" {
		return title
	}
	for _, id := range jm.find("journal-id") {
		if strings.EqualFold(id.attr("journal-id-type"), "nlm-ta") {
			return id.text()
		}
	}
	return ""
}

// abstract prefers an untyped or "main" abstract over graphical and teaser variants.
func abstract(meta *node) string {
	candidates := meta.children("abstract")
	if len(candidates) == 0 {
		return ""
	}
	var fallback *node
	for _, a := range candidates {
		switch strings.ToLower(a.attr("abstract-type")) {
		case "", "main", "summary", "structured":
			return abstractText(a)
		case "graphical", "teaser", "toc", "web-summary":
			continue
		default:
			if fallback == nil {
				fallback = a
			}
		}
	}
	if fallback == nil {
		fallback = candidates[0]
	}
	return abstractText(fallback)
}

func abstractText(a *node) string {
	return a.textExcept(map[string]bool{"object-id": true})
}

func bodySections(body *node) []domain.Section {
	if body == nil {
		return nil
	}
	var sections []domain.Section
	var loose strings.Builder
	for _, k := range body.kids {
		if k.isText() {
			continue
		}
		if k.name == "sec" {
			sections = append(sections, domain.Section{
				Title: k.child("title").text(),
				Text:  k.without("title").text(),
			})
			continue
		}
		if t := k.text(); t != "" {
			loose.WriteString(t)
			loose.WriteByte(' ')
		}
	}
	if t := collapseSpace(loose.String()); t != "" {
		sections = append([]domain.Section{{Text: t}}, sections...)
	}
	return sections
}

func dates(meta *node) []domain.PublicationDate {
	var out []domain.PublicationDate
	for _, pd := range meta.children("pub-date") {
		typ := strings.ToLower(pd.attr("pub-type"))
		if typ == "" {
			typ = strings.ToLower(pd.attr("date-type"))
		}
		out = append(out, domain.PublicationDate{
			Type:   typ,
			Format: strings.ToLower(pd.attr("publication-format")),
			Raw:    dateParts(pd),
		})
	}
	if history := meta.child("history"); history != nil {
		for _, d := range history.children("date") {
			out = append(out, domain.PublicationDate{
				Type: strings.ToLower(d.attr("date-type")),
				Raw:  dateParts(d),
			})
		}
	}
	return out
}

func dateParts(n *node) domain.DateParts {
	return domain.DateParts{
		Year:   n.child("year").text(),
		Month:  n.child("month").text(),
		Day:    n.child("day").text(),
		Season: n.child("season").text(),
		ISO:    n.attr("iso-8601-date"),
		Text:   n.child("string-date").text(),
	}
}

var affiliationSkip = map[string]bool{"label": true, "sup": true}

func affiliations(meta *node) []domain.Affiliation {
	var out []domain.Affiliation
	for _, aff := range meta.find("aff") {
		text := aff.textExcept(affiliationSkip)
		if text == "" {
			continue
		}
		out = append(out, domain.Affiliation{ID: aff.attr("id"), Institution: text})
	}
	return out
}

func authors(meta *node) []domain.Author {
	var out []domain.Author
	for _, group := range meta.find("contrib-group") {
		for _, c := range group.children("contrib") {
			kind := strings.ToLower(c.attr("contrib-type"))
			if kind != "" && kind != "author" {
				continue
			}
			out = append(out, author(c))
		}
	}
	return out
}

func author(c *node) domain.Author {
	a := domain.Author{}
	if name := c.first("name"); name != nil {
		a.Surname = name.child("surname").text()
		a.GivenNames = name.child("given-names").text()
	} else if sn := c.first("string-name"); sn != nil {
		a.Surname = sn.child("surname").text()
		a.GivenNames = sn.child("given-names").text()
		if a.Surname == "" && a.GivenNames == "" {
			a.Name = sn.text()
		}
	}
	if a.Name == "" {
		a.Name = strings.TrimSpace(strings.Join(nonEmpty(a.GivenNames, a.Surname), " "))
	}
	if a.Name == "" {
		a.Name = c.first("collab").text()
	}

	for _, x := range c.find("xref") {
		if !strings.EqualFold(x.attr("ref-type"), "aff") {
			continue
		}
		a.AffiliationRefs = append(a.AffiliationRefs, strings.Fields(x.attr("rid"))...)
	}
	for _, aff := range c.find("aff") {
		if text := aff.textExcept(affiliationSkip); text != "" {
			a.InlineAffiliations = append(a.InlineAffiliations, text)
		}
	}
	return a
}

// funding reads the modern award-group encoding as a source x award-id cross
// product, then the legacy contract-sponsor and contract-num fields.
func funding(article, meta *node) []domain.Funding {
	var out []domain.Funding
	for _, group := range meta.find("award-group") {
		var sources, awards []string
		for _, s := range group.find("funding-source") {
			if t := s.textExcept(map[string]bool{"institution-id": true}); t != "" {
				sources = append(sources, t)
			}
		}
		for _, id := range group.find("award-id") {
			if t := id.text(); t != "" {
				awards = append(awards, t)
			}
		}
		switch {
		case len(sources) == 0:
			for _, id := range awards {
				out = append(out, domain.Funding{GrantID: id, SourceScheme: domain.SchemeModern})
			}
		case len(awards) == 0:
			for _, s := range sources {
				out = append(out, domain.Funding{Agency: s, SourceScheme: domain.SchemeModern})
			}
		default:
			for _, s := range sources {
				for _, id := range awards {
					out = append(out, domain.Funding{Agency: s, GrantID: id, SourceScheme: domain.SchemeModern})
				}
			}
		}
	}

	for _, sponsor := range article.find("contract-sponsor") {
		if t := sponsor.text(); t != "" {
			out = append(out, domain.Funding{Agency: t, SourceScheme: domain.SchemeLegacy})
		}
	}
	for _, num := range article.find("contract-num") {
		if t := num.text(); t != "" {
			out = append(out, domain.Funding{GrantID: t, SourceScheme: domain.SchemeLegacy})
		}
	}
	return out
}

func keywords(meta *node) []string {
	var out []string
	for _, group := range meta.find("kwd-group") {
		for _, k := range group.kids {
			switch k.name {
			case "kwd":
				if t := k.text(); t != "" {
					out = append(out, t)
				}
			case "compound-kwd":
				var parts []string
				for _, p := range k.kids {
					if p.isText() {
						continue
					}
					if t := p.text(); t != "" {
						parts = append(parts, t)
					}
				}
				if len(parts) > 0 {
					out = append(out, strings.Join(parts, " "))
				}
			}
		}
	}
	return out
}

// license returns the license URL, a license_ref, or the license-type attribute.
func license(meta *node) string {
	lic := meta.path("permissions", "license")
	if lic == nil {
		lic = meta.first("license")
	}
	if lic == nil {
		return ""
	}
	if ref := lic.first("license_ref").text(); ref != "" {
		return ref
	}
	if href := lic.attr("href"); href != "" {
		return href
	}
	return lic.attr("license-type")
}

func retraction(article, meta *node) domain.RetractionStatus {
	if strings.EqualFold(article.attr("article-type"), "retraction") {
		return domain.RetractionNotice
	}
	for _, rel := range meta.find("related-article") {
		switch strings.ToLower(rel.attr("related-article-type")) {
		case "retracted-article":
			return domain.RetractionNotice
		case "retraction-forward", "object-of-retraction":
			return domain.RetractionRetracted
		}
	}
	for _, notes := range article.find("notes") {
		if strings.EqualFold(notes.attr("notes-type"), "retraction") {
			return domain.RetractionRetracted
		}
	}
	return domain.RetractionNone
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
