package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

const searchPath = "/tody/ims/issue/issueSearchList.do"

// maxSearchPagesHardCeiling backstops CrawlerConfig.MaxSearchPages in case a
// caller configures an unreasonably large value; pagination always stops
// here regardless of configuration.
const maxSearchPagesHardCeiling = 500

var (
	totalBracketRe = regexp.MustCompile(`\[Total\s+(\d+)\]`)
	totalJSRe      = regexp.MustCompile(`(?i)totalCount\s*=\s*(\d+)`)
	totalLooseRe   = regexp.MustCompile(`(?i)Total:\s*(\d+)`)
	onclickIDRe    = regexp.MustCompile(`popBlankIssueView\('([^']+)'`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// SearchRow is one row of the IMS search-results table, before the detail
// page has been fetched. It doubles as the fallback record substituted when
// a batch detail fetch fails.
type SearchRow struct {
	ImsID      string
	Category   string
	Product    string
	Version    string
	Module     string
	Subject    string
	Customer   string
	Project    string
	Reporter   string
	IssuedDate string
}

// ToIssue converts a bare search row into the minimal Issue the orchestrator
// persists when detail fetch fails for this id.
func (r SearchRow) ToIssue(userID string) *models.Issue {
	return &models.Issue{
		UserID:     userID,
		ImsID:      r.ImsID,
		Title:      r.Subject,
		Category:   r.Category,
		Product:    r.Product,
		Version:    r.Version,
		Module:     r.Module,
		Customer:   r.Customer,
		ProjectKey: r.Project,
		Reporter:   r.Reporter,
		IssuedDate: r.IssuedDate,
	}
}

// SearchOptions carries the caller-supplied filters for one search.
type SearchOptions struct {
	Query        string
	ProductCodes []string
	UserID       string
	UserName     string
	UserGrade    string
}

// Search paginates the IMS search endpoint until the reported total is
// satisfied, an empty page is returned, or the safety ceiling is hit. It
// emits search_count once (after the first page) and search_page after
// every page.
func (s *Scraper) Search(ctx context.Context, opts SearchOptions, jobID string, events interfaces.EventService) ([]SearchRow, bool, error) {
	ceiling := s.config.MaxSearchPages
	if ceiling <= 0 || ceiling > maxSearchPagesHardCeiling {
		ceiling = maxSearchPagesHardCeiling
	}

	var rows []SearchRow
	seen := make(map[string]bool)
	total := -1
	truncated := false

	for page := 1; page <= ceiling; page++ {
		pageRows, pageTotal, err := s.fetchSearchPage(ctx, opts, page)
		if err != nil {
			return nil, false, fmt.Errorf("search page %d: %w", page, err)
		}

		if total < 0 {
			total = pageTotal
			totalPages := totalPagesFor(total, len(pageRows))
			publishEvent(ctx, events, jobID, interfaces.EventSearchCount, map[string]interface{}{
				"total":       total,
				"total_pages": totalPages,
			})
		}

		if len(pageRows) == 0 {
			break
		}

		added := 0
		for _, row := range pageRows {
			if seen[row.ImsID] {
				continue
			}
			seen[row.ImsID] = true
			rows = append(rows, row)
			added++
		}

		publishEvent(ctx, events, jobID, interfaces.EventSearchPage, map[string]interface{}{
			"current_page":     page,
			"progress_percent": progressPercent(len(rows), total),
		})

		if added == 0 {
			break
		}
		if total > 0 && len(rows) >= total {
			break
		}
		if page == ceiling {
			truncated = true
		}
	}

	publishEvent(ctx, events, jobID, interfaces.EventSearchComplete, map[string]interface{}{
		"fetched_count": len(rows),
		"truncated":     truncated,
	})

	return rows, truncated, nil
}

func progressPercent(fetched, total int) int {
	if total <= 0 {
		return 100
	}
	pct := fetched * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

func totalPagesFor(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return pages
}

func (s *Scraper) fetchSearchPage(ctx context.Context, opts SearchOptions, page int) ([]SearchRow, int, error) {
	form := url.Values{}
	form.Set("reSearchYN", "Y")
	form.Set("searchWord", opts.Query)
	form.Set("pageIndex", strconv.Itoa(page))
	form.Set("userId", opts.UserID)
	form.Set("userName", opts.UserName)
	form.Set("userGrade", opts.UserGrade)
	for _, code := range opts.ProductCodes {
		form.Add("productCodes", code)
	}

	resp, err := s.post(ctx, searchPath, form)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("parse search page: %w", err)
	}

	total := extractTotalCount(doc)
	rows := parseSearchRows(doc)
	return rows, total, nil
}

// extractTotalCount tries, in order: a bracketed "[Total N]" text node, a
// hidden input named totalCount, an inline JS assignment, then a looser
// "Total: N" pattern.
func extractTotalCount(doc *goquery.Document) int {
	bodyText := doc.Text()
	if m := totalBracketRe.FindStringSubmatch(bodyText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if val, exists := doc.Find("input[name='totalCount']").Attr("value"); exists {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	scriptText := doc.Find("script").Text()
	if m := totalJSRe.FindStringSubmatch(scriptText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	if m := totalLooseRe.FindStringSubmatch(bodyText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// parseSearchRows reads the fixed-index cell layout of a search result row:
// cells 2..10 map to category/product/version/module/subject/customer/
// project/reporter/issued-date respectively, cells 0 and 1 being the
// checkbox and row-number columns.
func parseSearchRows(doc *goquery.Document) []SearchRow {
	var rows []SearchRow

	doc.Find("tr[onclick*='popBlankIssueView']").Each(func(_ int, tr *goquery.Selection) {
		onclick, _ := tr.Attr("onclick")
		m := onclickIDRe.FindStringSubmatch(onclick)
		if m == nil {
			return
		}

		cells := tr.Find("td")
		cellText := func(idx int) string {
			if idx >= cells.Length() {
				return ""
			}
			return normalizeWhitespace(cells.Eq(idx).Text())
		}

		rows = append(rows, SearchRow{
			ImsID:      m[1],
			Category:   cellText(2),
			Product:    cellText(3),
			Version:    cellText(4),
			Module:     cellText(5),
			Subject:    cellText(6),
			Customer:   cellText(7),
			Project:    cellText(8),
			Reporter:   cellText(9),
			IssuedDate: cellText(10),
		})
	})

	return rows
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func publishEvent(ctx context.Context, events interfaces.EventService, jobID string, eventType interfaces.EventType, data map[string]interface{}) {
	if events == nil {
		return
	}
	_ = events.Publish(ctx, interfaces.ProgressEvent{JobID: jobID, Type: eventType, Data: data})
}
