package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const leadsDB = "prospects-lyon"

// leadRows builds pages as they come back from a lead database.
func leadRows(ids ...string) []notionapi.Page {
	pages := make([]notionapi.Page, len(ids))
	for i, id := range ids {
		pages[i] = notionapi.Page{
			ID: notionapi.ObjectID(id),
			Properties: notionapi.Properties{
				"Entreprise": title(id),
			},
		}
	}
	return pages
}

func atCursor(cursor notionapi.Cursor) any {
	return mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == cursor
	})
}

func TestQueryAll_Pagination(t *testing.T) {
	statusFilter := notionapi.PropertyFilter{
		Property: "Status",
		Status:   &notionapi.StatusFilterCondition{Equals: "A importer"},
	}

	tests := []struct {
		name   string
		pages  [][]string
		query  *notionapi.DatabaseQueryRequest
		wantID []string
	}{
		{
			name:   "single batch",
			pages:  [][]string{{"agence-durand", "cabinet-martin"}},
			wantID: []string{"agence-durand", "cabinet-martin"},
		},
		{
			name:   "three batches keep order",
			pages:  [][]string{{"agence-durand"}, {"cabinet-martin", "orpi-bron"}, {"foncia-lyon"}},
			query:  &notionapi.DatabaseQueryRequest{Filter: statusFilter, PageSize: 2},
			wantID: []string{"agence-durand", "cabinet-martin", "orpi-bron", "foncia-lyon"},
		},
		{
			name:  "empty database",
			pages: [][]string{{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := new(MockClient)
			ctx := context.Background()

			var cursor notionapi.Cursor
			for i, batch := range tt.pages {
				resp := &notionapi.DatabaseQueryResponse{Results: leadRows(batch...)}
				if i < len(tt.pages)-1 {
					resp.HasMore = true
					resp.NextCursor = notionapi.Cursor("after-" + batch[len(batch)-1])
				}
				mc.On("QueryDatabase", ctx, leadsDB, mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
					if req.StartCursor != cursor {
						return false
					}
					if tt.query == nil {
						return req.Filter == nil && req.PageSize == 0
					}
					return assert.ObjectsAreEqual(tt.query.Filter, req.Filter) && req.PageSize == tt.query.PageSize
				})).Return(resp, nil).Once()
				cursor = resp.NextCursor
			}

			pages, err := QueryAll(ctx, mc, leadsDB, tt.query)
			require.NoError(t, err)
			var ids []string
			for _, p := range pages {
				ids = append(ids, string(p.ID))
			}
			assert.Equal(t, tt.wantID, ids)
			mc.AssertExpectations(t)
		})
	}
}

func TestQueryAll_StopsOnEmptyCursor(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, leadsDB, atCursor("")).
		Return(&notionapi.DatabaseQueryResponse{Results: leadRows("agence-durand"), HasMore: true}, nil).Once()

	pages, err := QueryAll(ctx, mc, leadsDB, nil)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	mc.AssertExpectations(t)
}

func TestQueryAll_FailedBatchDropsPartialResults(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	mc.On("QueryDatabase", ctx, leadsDB, atCursor("")).
		Return(&notionapi.DatabaseQueryResponse{
			Results:    leadRows("agence-durand"),
			HasMore:    true,
			NextCursor: "after-agence-durand",
		}, nil).Once()
	mc.On("QueryDatabase", ctx, leadsDB, atCursor("after-agence-durand")).
		Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, leadsDB, nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "notion: query all")
	mc.AssertExpectations(t)
}

func TestQueryAll_CancelledBeforeFirstBatch(t *testing.T) {
	mc := new(MockClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := QueryAll(ctx, mc, leadsDB, nil)
	require.ErrorIs(t, err, context.Canceled)
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}
