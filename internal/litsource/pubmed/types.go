package pubmed

import (
	"encoding/json"
	"fmt"
)

// esearchResponse is the JSON envelope returned by esearch.fcgi.
type esearchResponse struct {
	ESearchResult esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count    string          `json:"count"`
	IDList   []string        `json:"idlist"`
	ErrorList *esearchErrors `json:"errorlist,omitempty"`
}

type esearchErrors struct {
	PhraseNotFound []string `json:"phrasesnotfound,omitempty"`
	FieldNotFound  []string `json:"fieldsnotfound,omitempty"`
}

// docSummary is one record from esummary.fcgi (retmode=json). Only the
// fields the pipeline consumes are mapped.
type docSummary struct {
	UID             string      `json:"uid"`
	Title           string      `json:"title"`
	PubDate         string      `json:"pubdate"`
	EPubDate        string      `json:"epubdate"`
	SortPubDate     string      `json:"sortpubdate"`
	Source          string      `json:"source"`
	FullJournalName string      `json:"fulljournalname"`
	ELocationID     string      `json:"elocationid"`
	Authors         []docAuthor `json:"authors"`
	ArticleIDs      []articleID `json:"articleids"`
}

type docAuthor struct {
	Name     string `json:"name"`
	AuthType string `json:"authtype"`
}

type articleID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}

// DOI returns the record's DOI from the article id list, empty when absent.
func (d *docSummary) DOI() string {
	for _, id := range d.ArticleIDs {
		if id.IDType == "doi" {
			return id.Value
		}
	}
	return ""
}

// esummaryResult is the dynamic-keyed "result" object of an esummary
// response: a "uids" array plus one summary object per uid.
type esummaryResult struct {
	UIDs      []string
	Summaries map[string]docSummary
}

// esummaryResponse is the JSON envelope returned by esummary.fcgi.
type esummaryResponse struct {
	Result json.RawMessage `json:"result"`
}

// parseESummary decodes the dynamic-keyed result object.
func parseESummary(body []byte) (*esummaryResult, error) {
	var envelope esummaryResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse esummary envelope: %w", err)
	}
	if len(envelope.Result) == 0 {
		return &esummaryResult{Summaries: map[string]docSummary{}}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Result, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse esummary result: %w", err)
	}

	out := &esummaryResult{Summaries: make(map[string]docSummary, len(raw))}
	if uids, ok := raw["uids"]; ok {
		if err := json.Unmarshal(uids, &out.UIDs); err != nil {
			return nil, fmt.Errorf("failed to parse esummary uids: %w", err)
		}
	}

	for _, uid := range out.UIDs {
		msg, ok := raw[uid]
		if !ok {
			continue
		}
		var summary docSummary
		if err := json.Unmarshal(msg, &summary); err != nil {
			// A single undecodable record is skipped, not fatal.
			continue
		}
		if summary.UID == "" {
			summary.UID = uid
		}
		out.Summaries[uid] = summary
	}

	return out, nil
}

// pubmedArticleSet is the XML document returned by efetch.fcgi; only the
// abstract path is mapped since esummary already supplies the metadata.
type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	PMID          string         `xml:"MedlineCitation>PMID"`
	AbstractTexts []abstractText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Value string `xml:",chardata"`
}
