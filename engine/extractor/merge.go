package extractor

import "github.com/hrkg/platform/engine/domain"

// smartUnion merges per-chunk extraction results: locations/entities/dates
// deduplicate by their natural key, scalar class-specific fields take the
// first non-empty value seen (§4.5 step 4, ported from
// original_source/Agent/utils/merger.py's smart_union).
func smartUnion(results []domain.ProcessedDocument) domain.ProcessedDocument {
	if len(results) == 0 {
		return domain.ProcessedDocument{}
	}

	merged := results[0]
	seenLocations := map[string]bool{}
	for _, l := range merged.Locations {
		seenLocations[l.Name] = true
	}
	seenPeople := entitySeenSet(merged.Entities.People)
	seenOrgs := entitySeenSet(merged.Entities.Organizations)
	seenCompanies := entitySeenSet(merged.Entities.Companies)
	seenDates := map[string]bool{}
	for _, d := range merged.Dates {
		seenDates[d.Date] = true
	}

	for _, chunk := range results[1:] {
		for _, l := range chunk.Locations {
			if l.Name != "" && !seenLocations[l.Name] {
				merged.Locations = append(merged.Locations, l)
				seenLocations[l.Name] = true
			}
		}
		for _, e := range chunk.Entities.People {
			if e.Name != "" && !seenPeople[e.Name] {
				merged.Entities.People = append(merged.Entities.People, e)
				seenPeople[e.Name] = true
			}
		}
		for _, e := range chunk.Entities.Organizations {
			if e.Name != "" && !seenOrgs[e.Name] {
				merged.Entities.Organizations = append(merged.Entities.Organizations, e)
				seenOrgs[e.Name] = true
			}
		}
		for _, e := range chunk.Entities.Companies {
			if e.Name != "" && !seenCompanies[e.Name] {
				merged.Entities.Companies = append(merged.Entities.Companies, e)
				seenCompanies[e.Name] = true
			}
		}
		for _, d := range chunk.Dates {
			if d.Date != "" && !seenDates[d.Date] {
				merged.Dates = append(merged.Dates, d)
				seenDates[d.Date] = true
			}
		}
		merged.Relationships = append(merged.Relationships, chunk.Relationships...)

		if merged.Project == nil {
			merged.Project = chunk.Project
		}
		if merged.Patent == nil {
			merged.Patent = chunk.Patent
		}
		if merged.Research == nil {
			merged.Research = chunk.Research
		}
		if merged.DocumentType == "" {
			merged.DocumentType = chunk.DocumentType
		}
		firstNonEmptyContact(&merged.ContactInfo, chunk.ContactInfo)
		firstNonEmptyFunding(&merged.Funding, chunk.Funding)
	}
	return merged
}

func entitySeenSet(refs []domain.EntityRef) map[string]bool {
	seen := map[string]bool{}
	for _, r := range refs {
		seen[r.Name] = true
	}
	return seen
}

func firstNonEmptyContact(dst *domain.ContactInfo, src domain.ContactInfo) {
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.Phone == "" {
		dst.Phone = src.Phone
	}
	if dst.Website == "" {
		dst.Website = src.Website
	}
}

func firstNonEmptyFunding(dst *domain.Funding, src domain.Funding) {
	if dst.Amount == "" {
		dst.Amount = src.Amount
	}
	if dst.Source == "" {
		dst.Source = src.Source
	}
	if dst.Details == "" {
		dst.Details = src.Details
	}
}
