package actions

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Extraction sources.
const (
	SourceFencedBlock = "fenced_block"
	SourceWholeText   = "whole_text"
)

// Extraction is the result of pulling recommendations out of free text.
// Found is false when no extractor matched; Recs is nil in that case.
type Extraction struct {
	Found  bool
	Source string
	Recs   *Recommendations
}

// Extractor tries to read recommendations from text. It returns ok=false
// when text holds nothing it recognizes.
type Extractor struct {
	Name    string
	Extract func(text string) (*Recommendations, bool)
}

// DefaultPipeline tries a fenced ```json block first, then the whole reply.
var DefaultPipeline = []Extractor{
	{Name: SourceFencedBlock, Extract: fencedBlock},
	{Name: SourceWholeText, Extract: wholeText},
}

// Extract runs DefaultPipeline.
func Extract(text string) Extraction {
	return ExtractWith(DefaultPipeline, text)
}

// ExtractWith runs extractors in order and stops at the first match.
func ExtractWith(pipeline []Extractor, text string) Extraction {
	for _, ex := range pipeline {
		if recs, ok := ex.Extract(text); ok {
			recs.normalize()
			return Extraction{Found: true, Source: ex.Name, Recs: recs}
		}
	}
	return Extraction{}
}

var fenceRe = regexp.MustCompile("(?s)```[ \\t]*(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")

func fencedBlock(text string) (*Recommendations, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if recs, ok := decodeObject(m[1]); ok {
			return recs, true
		}
	}
	return nil, false
}

func wholeText(text string) (*Recommendations, bool) {
	return decodeObject(text)
}

// decodeObject accepts only a JSON object; arrays and scalars are rejected.
func decodeObject(s string) (*Recommendations, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var recs Recommendations
	if err := json.Unmarshal([]byte(s), &recs); err != nil {
		return nil, false
	}
	return &recs, true
}
