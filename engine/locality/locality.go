// Package locality implements the Locality Detector (§4.7): regex-based
// mention detection of Hampton Roads localities and the containing
// region, and the graph edges those mentions produce.
package locality

import (
	"regexp"
	"strings"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
)

// Config is a map from canonical locality name to one or more
// case-insensitive whole-word regexes, plus a separate list of
// region-level regexes.
type Config struct {
	Localities map[string][]*regexp.Regexp
	Region     []*regexp.Regexp
}

// wholeWord compiles term as a case-insensitive whole-word pattern.
func wholeWord(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// DefaultConfig is the full 16-locality Hampton Roads configuration
// (§2C): the seven cities plus the nine additional counties/towns
// seed_localities.py also seeds.
var DefaultConfig = Config{
	Localities: map[string][]*regexp.Regexp{
		"Norfolk":        {wholeWord("norfolk")},
		"Virginia Beach": {wholeWord("virginia beach"), wholeWord("vb")},
		"Chesapeake":     {wholeWord("chesapeake")},
		"Portsmouth":     {wholeWord("portsmouth")},
		"Suffolk":        {wholeWord("suffolk")},
		"Hampton":        {wholeWord("hampton")},
		"Newport News":   {wholeWord("newport news")},
		"Williamsburg":   {wholeWord("williamsburg")},
		"James City":     {wholeWord("james city")},
		"Gloucester":     {wholeWord("gloucester")},
		"York":           {wholeWord("york county"), wholeWord("york")},
		"Poquoson":       {wholeWord("poquoson")},
		"Isle of Wight":  {wholeWord("isle of wight")},
		"Surry":          {wholeWord("surry")},
		"Southampton":    {wholeWord("southampton")},
		"Smithfield":     {wholeWord("smithfield")},
	},
	Region: []*regexp.Regexp{
		wholeWord("hampton roads"),
		wholeWord("tidewater"),
		wholeWord("757"),
	},
}

// SevenCities names the subset of Localities that make up the "Seven
// Cities" (Glossary), used to tag locality nodes at seed time and to
// build the Read API's in_seven_cities flag.
var SevenCities = map[string]bool{
	"Norfolk": true, "Virginia Beach": true, "Chesapeake": true,
	"Portsmouth": true, "Suffolk": true, "Hampton": true, "Newport News": true,
}

// DetectLocalities returns a mention count per canonical locality name
// found in text; empty when text is empty (§4.7).
func DetectLocalities(cfg Config, text string) map[string]int {
	counts := make(map[string]int)
	if strings.TrimSpace(text) == "" {
		return counts
	}
	for name, patterns := range cfg.Localities {
		n := 0
		for _, re := range patterns {
			n += len(re.FindAllStringIndex(text, -1))
		}
		if n > 0 {
			counts[name] = n
		}
	}
	return counts
}

// DetectRegion reports whether any region-level pattern matches text.
func DetectRegion(cfg Config, text string) bool {
	for _, re := range cfg.Region {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// AddLocalityRelations attaches LOCATED_IN edges document→locality with
// confidence = min(1.0, mentions/10) for every detected locality that
// exists as a node in g, plus a region edge when detected (§4.7).
func AddLocalityRelations(cfg Config, g *graph.Graph, documentNodeID, text string) []string {
	var attached []string
	for name, mentions := range DetectLocalities(cfg, text) {
		localityID, ok := g.FindByLabel(domain.NodeLocality, name)
		if !ok {
			continue
		}
		confidence := float64(mentions) / 10.0
		if confidence > 1.0 {
			confidence = 1.0
		}
		g.AddEdge(domain.GraphEdge{
			Source:     documentNodeID,
			Target:     localityID,
			Type:       domain.EdgeLocatedIn,
			Confidence: confidence,
		})
		attached = append(attached, localityID)
	}

	if DetectRegion(cfg, text) {
		if regionID, ok := g.FindByLabel(domain.NodeRegion, "Hampton Roads"); ok {
			g.AddEdge(domain.GraphEdge{
				Source: documentNodeID,
				Target: regionID,
				Type:   domain.EdgeLocatedIn,
			})
			attached = append(attached, regionID)
		}
	}

	return attached
}
