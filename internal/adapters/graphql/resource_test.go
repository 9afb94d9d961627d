package graphql_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/adapters/graphql"
)

type track struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

var trackOps = graphql.Operations{
	Find:      `query Track($key: String!) { track(slug: $key) { id slug name } }`,
	FindField: "track",
	List:      `query Tracks($first: Int!, $after: String) { tracks(first: $first, after: $after) { nodes { id slug name } pageInfo { hasNextPage endCursor } } }`,
	ListField: "tracks",
	Save:      `mutation SaveTrack($input: TrackInput!) { saveTrack(input: $input) { id slug name } }`,
	SaveField: "saveTrack",
}

type fakeGraph struct {
	tracks []track
	// reply overrides the response body for find operations when set.
	reply  string
	status int
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(graphql.APIKeyHeader) != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`unauthorized`))
		return
	}
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.Contains(req.Query, "saveTrack"):
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"saveTrack": req.Variables["input"]}})
	case strings.Contains(req.Query, "tracks("):
		first := int(req.Variables["first"].(float64))
		start := 0
		if after, ok := req.Variables["after"].(string); ok {
			start, _ = strconv.Atoi(strings.TrimPrefix(after, "cursor:"))
		}
		end := start + first
		if end > len(f.tracks) {
			end = len(f.tracks)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"tracks": map[string]any{
			"nodes":    f.tracks[start:end],
			"pageInfo": map[string]any{"hasNextPage": end < len(f.tracks), "endCursor": fmt.Sprintf("cursor:%d", end)},
		}}})
	default:
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		if f.reply != "" {
			_, _ = w.Write([]byte(f.reply))
			return
		}
		key, _ := req.Variables["key"].(string)
		for _, tr := range f.tracks {
			if tr.Slug == key {
				_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"track": tr}})
				return
			}
		}
		_, _ = w.Write([]byte(`{"data":{"track":null}}`))
	}
}

func newResource(t *testing.T, f *fakeGraph, apiKey string) *graphql.Resource[track] {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client, err := graphql.NewClient(graphql.Config{Endpoint: srv.URL + "/graphql", APIKey: apiKey}, zerolog.Nop(), graphql.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := graphql.NewResource(client, trackOps, graphql.JSONMapping[track]())
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	return res
}

func seedTracks(n int) []track {
	out := make([]track, n)
	for i := range out {
		out[i] = track{ID: fmt.Sprintf("t-%02d", i), Slug: fmt.Sprintf("track-%d", i), Name: fmt.Sprintf("Track %d", i)}
	}
	return out
}

func TestFindOneBySlug(t *testing.T) {
	res := newResource(t, &fakeGraph{tracks: seedTracks(3)}, "secret")
	got, err := res.FindOne(context.Background(), "track-2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "t-02" {
		t.Fatalf("unexpected track %+v", got)
	}
}

func TestNullDataIsNotFound(t *testing.T) {
	res := newResource(t, &fakeGraph{}, "secret")
	_, err := res.FindOne(context.Background(), "nope")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestErrorsUnderHTTP200(t *testing.T) {
	cases := []struct {
		name    string
		reply   string
		kind    common.Kind
		message string
	}{
		{
			name:    "not found code",
			reply:   `{"data":{"track":null},"errors":[{"message":"track missing","extensions":{"code":"NOT_FOUND"}}]}`,
			kind:    common.KindNotFound,
			message: "track missing",
		},
		{
			name:    "bad input",
			reply:   `{"data":null,"errors":[{"message":"slug malformed","extensions":{"code":"BAD_USER_INPUT"}}]}`,
			kind:    common.KindRequestInvalid,
			message: "slug malformed",
		},
		{
			name:    "internal",
			reply:   `{"data":null,"errors":[{"message":"resolver crashed","extensions":{"code":"INTERNAL_SERVER_ERROR"}}]}`,
			kind:    common.KindSourceUnavailable,
			message: "resolver crashed",
		},
		{
			name:    "partial data with uncoded error",
			reply:   `{"data":{"track":{"id":"t-1","slug":"a","name":"A"}},"errors":[{"message":"field name deprecated"},{"message":"second"}]}`,
			kind:    common.KindServer,
			message: "field name deprecated; second",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := newResource(t, &fakeGraph{reply: tc.reply}, "secret")
			_, err := res.FindOne(context.Background(), "a")
			ce := common.AsError(err)
			if ce == nil || ce.Kind != tc.kind || ce.Message != tc.message || ce.Source != graphql.SourceName {
				t.Fatalf("expected %s %q, got %+v", tc.kind, tc.message, ce)
			}
		})
	}
}

func TestErrorsWithFailureStatus(t *testing.T) {
	res := newResource(t, &fakeGraph{status: http.StatusBadGateway, reply: `{"errors":[{"message":"upstream down"}]}`}, "secret")
	_, err := res.FindOne(context.Background(), "a")
	ce := common.AsError(err)
	if ce.Kind != common.KindSourceUnavailable || ce.Code != http.StatusBadGateway {
		t.Fatalf("expected SourceUnavailable 502, got %+v", ce)
	}
}

func TestWrongAPIKey(t *testing.T) {
	res := newResource(t, &fakeGraph{}, "wrong")
	_, err := res.FindOne(context.Background(), "a")
	ce := common.AsError(err)
	if ce.Kind != common.KindServer || ce.RawClass != http.StatusUnauthorized {
		t.Fatalf("expected ServerError for 401, got %+v", ce)
	}
}

func TestQueryAllCursorPages(t *testing.T) {
	res := newResource(t, &fakeGraph{tracks: seedTracks(25)}, "secret")
	var sizes []int
	var more []bool
	token := ""
	for {
		page, err := res.QueryAll(context.Background(), graphql.Query{}, common.Pagination{Limit: 10, Token: token})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		sizes = append(sizes, len(page.Items))
		more = append(more, page.HasMore)
		if !page.HasMore {
			break
		}
		token = page.Next
	}
	if fmt.Sprint(sizes) != "[10 10 5]" || fmt.Sprint(more) != "[true true false]" {
		t.Fatalf("unexpected paging %v %v", sizes, more)
	}
}

func TestSaveOne(t *testing.T) {
	res := newResource(t, &fakeGraph{}, "secret")
	saved, err := res.SaveOne(context.Background(), track{ID: "t-9", Slug: "nine", Name: "Nine"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved != (track{ID: "t-9", Slug: "nine", Name: "Nine"}) {
		t.Fatalf("unexpected saved track %+v", saved)
	}
}
