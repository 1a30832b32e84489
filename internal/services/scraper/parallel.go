package scraper

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// DefaultBatchSize is the parallel detail-fetch batch size. Batches are
// processed consecutively; within a batch every member fetches concurrently
// and the batch joins before the next one starts.
const DefaultBatchSize = 10

// CrawlParallel fetches detail pages for every row in batches of batchSize,
// sorted by ImsID descending. A per-issue fetch failure falls back to the
// original search-result row so the output length always equals the input
// length. It emits crawl_batch_start/crawl_batch_complete per batch.
func (s *Scraper) CrawlParallel(ctx context.Context, rows []SearchRow, userID, jobID string, events interfaces.EventService, batchSize int) []*models.Issue {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	sorted := make([]SearchRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return imsIDLess(sorted[j].ImsID, sorted[i].ImsID)
	})

	results := make([]*models.Issue, len(sorted))
	totalBatches := (len(sorted) + batchSize - 1) / batchSize

	for start := 0; start < len(sorted); start += batchSize {
		end := start + batchSize
		if end > len(sorted) {
			end = len(sorted)
		}
		batchNum := start/batchSize + 1

		publishEvent(ctx, events, jobID, interfaces.EventCrawlBatchStart, map[string]interface{}{
			"batch":       batchNum,
			"total":       totalBatches,
			"batch_size":  end - start,
		})

		successCount, failCount := s.crawlBatch(ctx, sorted[start:end], userID, jobID, events, results[start:end])

		publishEvent(ctx, events, jobID, interfaces.EventCrawlBatchComplete, map[string]interface{}{
			"batch":         batchNum,
			"batch_success": successCount,
			"batch_fail":    failCount,
		})
	}

	return results
}

func (s *Scraper) crawlBatch(ctx context.Context, batch []SearchRow, userID, jobID string, events interfaces.EventService, out []*models.Issue) (success, failed int) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, row := range batch {
		wg.Add(1)
		go func(i int, row SearchRow) {
			defer wg.Done()

			issue, err := s.FetchDetail(ctx, userID, row.ImsID)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				s.logger.Warn().Err(err).Str("ims_id", row.ImsID).Msg("detail fetch failed, using search-row fallback")
				publishEvent(ctx, events, jobID, interfaces.EventIssueSaveFailed, map[string]interface{}{
					"ims_id": row.ImsID,
					"error":  err.Error(),
				})
				out[i] = row.ToIssue(userID)
				failed++
				return
			}
			out[i] = issue
			success++
		}(i, row)
	}

	wg.Wait()
	return success, failed
}

// imsIDLess orders two ims_id strings numerically when both parse as
// integers, falling back to lexical ordering otherwise (IMS ids are
// normally numeric but the format is not guaranteed).
func imsIDLess(a, b string) bool {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}
