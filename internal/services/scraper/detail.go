package scraper

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/tenwire/imscrawl/internal/models"
)

const detailPath = "/tody/ims/issue/issueView.do"

// maxActionLogChars mirrors models.Issue's own cap; applied here too so the
// concatenation work doesn't grow unbounded before Normalize runs.
const maxActionLogChars = 10_000

// detailLabels maps the label text of a tableHeaderTitle cell (case folded)
// to the Issue field it populates. Subject and description have additional
// id-based fallbacks handled separately in parseDetailDocument.
var detailLabels = map[string]string{
	"category":     "category",
	"product":      "product",
	"version":      "version",
	"module":       "module",
	"customer":     "customer",
	"project":      "project",
	"reporter":     "reporter",
	"assignee":     "assignee",
	"issue type":   "issue_type",
	"status":       "status",
	"priority":     "priority",
	"issued date":  "issued_date",
	"subject":      "subject",
	"description":  "description",
}

// FetchDetail fetches and parses one issue's detail page.
func (s *Scraper) FetchDetail(ctx context.Context, userID, imsID string) (*models.Issue, error) {
	form := url.Values{}
	form.Set("issueId", imsID)
	form.Set("menuCode", "issue")

	resp, err := s.post(ctx, detailPath, form)
	if err != nil {
		return nil, fmt.Errorf("fetch detail %s: %w", imsID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("fetch detail %s: HTTP %d", imsID, resp.StatusCode)
	}

	rawHTML, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read detail %s: %w", imsID, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(rawHTML)))
	if err != nil {
		return nil, fmt.Errorf("parse detail %s: %w", imsID, err)
	}

	issue := parseDetailDocument(doc)
	issue.UserID = userID
	issue.ImsID = imsID
	issue.SourceURL = s.baseURL + detailPath + "?issueId=" + imsID
	issue.Normalize()

	relatedIDs, err := s.FindRelatedIDs(ctx, imsID, string(rawHTML))
	if err != nil {
		s.logger.Warn().Err(err).Str("ims_id", imsID).Msg("related-id discovery failed")
	} else {
		issue.RelatedImsIDs = relatedIDs
	}

	return issue, nil
}

func parseDetailDocument(doc *goquery.Document) *models.Issue {
	fields := extractLabeledFields(doc)

	issue := &models.Issue{
		Title:       firstNonEmpty(fields["subject"], textByID(doc, "#subject")),
		RawStatus:   fields["status"],
		RawPriority: fields["priority"],
		Category:    fields["category"],
		Product:     fields["product"],
		Version:     fields["version"],
		Module:      fields["module"],
		Customer:    fields["customer"],
		ProjectKey:  fields["project"],
		Reporter:    fields["reporter"],
		Assignee:    fields["assignee"],
		IssueType:   fields["issue_type"],
		IssuedDate:  fields["issued_date"],
	}

	issue.Status = models.NormalizeStatus(issue.RawStatus)
	issue.Priority = models.NormalizePriority(issue.RawPriority)

	descriptionHTML := firstNonEmptyHTML(doc, "#contents", "#IssueDescriptionDiv")
	if descriptionHTML == "" {
		descriptionHTML = fields["description_html"]
	}
	issue.Description = htmlToMarkdown(descriptionHTML)
	if issue.Description == "" {
		issue.Description = fields["description"]
	}

	// The detail body div carries the long-form write-up when it differs
	// from the summary description.
	if details := htmlToMarkdown(firstNonEmptyHTML(doc, "#IssueDescriptionDiv")); details != "" && details != issue.Description {
		issue.IssueDetails = details
	}

	issue.ActionLog = extractActionLog(doc)

	return issue
}

// extractLabeledFields locates every <td class="tableHeaderTitle"> whose
// text matches a known label (case-insensitive) and reads the adjacent
// sibling <td> as the value.
func extractLabeledFields(doc *goquery.Document) map[string]string {
	fields := make(map[string]string)

	doc.Find("td.tableHeaderTitle").Each(func(_ int, label *goquery.Selection) {
		text := strings.ToLower(normalizeWhitespace(label.Text()))
		text = strings.TrimSuffix(text, ":")
		field, ok := detailLabels[text]
		if !ok {
			return
		}

		value := label.Next()
		if value.Length() == 0 {
			return
		}

		if field == "description" {
			if html, err := value.Html(); err == nil {
				fields["description_html"] = html
			}
		}
		fields[field] = normalizeWhitespace(value.Text())
	})

	return fields
}

func textByID(doc *goquery.Document, selector string) string {
	return normalizeWhitespace(doc.Find(selector).First().Text())
}

func firstNonEmptyHTML(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if html, err := node.Html(); err == nil && strings.TrimSpace(html) != "" {
			return html
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// extractActionLog joins every commDescTR div's text, capping at
// maxActionLogChars; the cap is enforced here in addition to
// models.Issue.Normalize because html-to-markdown expansion can inflate the
// text before the final trim.
func extractActionLog(doc *goquery.Document) string {
	var entries []string
	doc.Find("div.commDescTR").Each(func(_ int, div *goquery.Selection) {
		if html, err := div.Html(); err == nil {
			text := htmlToMarkdown(html)
			if text == "" {
				text = normalizeWhitespace(div.Text())
			}
			if text != "" {
				entries = append(entries, text)
			}
		}
	})

	joined := strings.Join(entries, " | ")
	if len(joined) > maxActionLogChars {
		joined = joined[:maxActionLogChars]
	}
	return joined
}

// htmlToMarkdown converts an HTML fragment to markdown for storage.
func htmlToMarkdown(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return normalizeWhitespace(html)
	}
	return strings.TrimSpace(out)
}
