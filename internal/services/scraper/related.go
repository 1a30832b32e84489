package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	findRelationPath = "/tody/ims/issue/findRelationIssues.do"
	patchListPath    = "/tody/ims/patch/patchList.do"
)

var (
	popupPatchListRe = regexp.MustCompile(`popupPatchList\('([^']*)','([^']*)','([^']*)','([^']*)','([^']*)'\)`)
	patchHrefIDRe    = regexp.MustCompile(`issueId=(\d+)`)
)

// flexID tolerates the relation API emitting ids as either JSON numbers or
// strings; both shapes show up depending on the IMS version.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

type relationIssue struct {
	IssueID         flexID `json:"issueId"`
	RelationIssueID flexID `json:"relationIssueId"`
}

// FindRelatedIDs discovers related issue ids from both sources: the
// findRelationIssues JSON API and, when present on the detail page, the
// patch list. Results are concatenated, the queried id removed, and
// deduplicated preserving first-seen order.
func (s *Scraper) FindRelatedIDs(ctx context.Context, imsID, detailHTML string) ([]string, error) {
	var ids []string

	apiIDs, err := s.fetchRelationAPI(ctx, imsID)
	if err != nil {
		s.logger.Warn().Err(err).Str("ims_id", imsID).Msg("findRelationIssues.do failed")
	} else {
		ids = append(ids, apiIDs...)
	}

	if fields, ok := extractPatchListFields(detailHTML); ok {
		patchIDs, err := s.fetchPatchList(ctx, fields)
		if err != nil {
			s.logger.Warn().Err(err).Str("ims_id", imsID).Msg("patchList.do failed")
		} else {
			ids = append(ids, patchIDs...)
		}
	}

	return dedupExcluding(ids, imsID), nil
}

func (s *Scraper) fetchRelationAPI(ctx context.Context, imsID string) ([]string, error) {
	rawURL := fmt.Sprintf("%s%s?issueId=%s", s.baseURL, findRelationPath, imsID)
	resp, err := s.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var items []relationIssue
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode relation response: %w", err)
	}

	var ids []string
	for _, item := range items {
		id := string(item.RelationIssueID)
		// relationIssueId=0 marks the queried issue itself.
		if id == "0" || id == "" || id == "null" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type patchListFields struct {
	Project   string
	Site      string
	Product   string
	ProjName  string
	SiteName  string
}

func extractPatchListFields(detailHTML string) (patchListFields, bool) {
	m := popupPatchListRe.FindStringSubmatch(detailHTML)
	if m == nil {
		return patchListFields{}, false
	}
	return patchListFields{
		Project:  m[1],
		Site:     m[2],
		Product:  m[3],
		ProjName: m[4],
		SiteName: m[5],
	}, true
}

func (s *Scraper) fetchPatchList(ctx context.Context, fields patchListFields) ([]string, error) {
	params := url.Values{}
	params.Set("projectCode", fields.Project)
	params.Set("siteCode", fields.Site)
	params.Set("productCode", fields.Product)
	params.Set("projectName", fields.ProjName)
	params.Set("siteName", fields.SiteName)
	rawURL := s.baseURL + patchListPath + "?" + params.Encode()

	resp, err := s.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse patch list: %w", err)
	}

	var ids []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if m := patchHrefIDRe.FindStringSubmatch(href); m != nil {
			ids = append(ids, m[1])
		}
	})

	if len(ids) == 0 {
		// Fallback: numeric cell text of length 5-6.
		doc.Find("td").Each(func(_ int, td *goquery.Selection) {
			text := strings.TrimSpace(td.Text())
			if len(text) < 5 || len(text) > 6 {
				return
			}
			if _, err := strconv.Atoi(text); err == nil {
				ids = append(ids, text)
			}
		})
	}

	return ids, nil
}

func dedupExcluding(ids []string, exclude string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, id := range ids {
		if id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}
