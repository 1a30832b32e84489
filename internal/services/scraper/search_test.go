package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTotalCount_BracketedTotal(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><div>[Total 27]</div></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 27, extractTotalCount(doc))
}

func TestExtractTotalCount_HiddenInput(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><input type="hidden" name="totalCount" value="42"></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 42, extractTotalCount(doc))
}

func TestExtractTotalCount_InlineJS(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><script>var totalCount = 13;</script></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 13, extractTotalCount(doc))
}

func TestExtractTotalCount_LooseFallback(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>Total: 7 issues</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 7, extractTotalCount(doc))
}

func TestExtractTotalCount_NoneFound(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>no count here</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, 0, extractTotalCount(doc))
}

func TestParseSearchRows(t *testing.T) {
	html := `<html><body><table>
		<tr onclick="popBlankIssueView('1001', 'x')">
			<td><input type="checkbox"></td><td>1</td><td>Bug</td><td>Core</td><td>1.0</td><td>Auth</td>
			<td>Login   fails</td><td>Acme</td><td>PRJ-1</td><td>alice</td><td>2024-01-01</td>
		</tr>
		<tr onclick="popBlankIssueView('1002', 'x')">
			<td><input type="checkbox"></td><td>2</td><td>Feature</td><td>Core</td><td>1.1</td><td>UI</td>
			<td>Dark mode</td><td>Acme</td><td>PRJ-1</td><td>bob</td><td>2024-01-02</td>
		</tr>
	</table></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	rows := parseSearchRows(doc)
	require.Len(t, rows, 2)
	assert.Equal(t, "1001", rows[0].ImsID)
	assert.Equal(t, "Bug", rows[0].Category)
	assert.Equal(t, "Login fails", rows[0].Subject, "whitespace should collapse to single spaces")
	assert.Equal(t, "1002", rows[1].ImsID)
}

func TestParseSearchRows_NoMatches(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><table><tr><td>nothing</td></tr></table></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, parseSearchRows(doc))
}

func TestTotalPagesFor(t *testing.T) {
	assert.Equal(t, 3, totalPagesFor(27, 10))
	assert.Equal(t, 1, totalPagesFor(10, 10))
	assert.Equal(t, 0, totalPagesFor(0, 10))
}
