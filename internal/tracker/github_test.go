package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRepoURL(t *testing.T) {
	cases := map[string]Repo{
		"https://github.com/a/b":          {Owner: "a", Name: "b"},
		"https://github.com/a/b.git":      {Owner: "a", Name: "b"},
		"git@github.com:org/repo.git":     {Owner: "org", Name: "repo"},
		"github.com/acme/tool/issues/3":   {Owner: "acme", Name: "tool"},
		"https://github.com/acme/tool?x=": {Owner: "acme", Name: "tool"},
	}
	for in, want := range cases {
		got, err := ParseRepoURL(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("parse %q (-want +got):\n%s", in, diff)
		}
	}
	if _, err := ParseRepoURL("https://gitlab.com/a/b"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected invalid url, got %v", err)
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-token").WithBaseURL(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCreateIssue(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/a/b/issues" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":7,"title":"Fix auth","html_url":"https://github.com/a/b/issues/7","state":"open","labels":[{"name":"security"}]}`)
	}))
	issue, err := c.CreateIssue(context.Background(), Repo{Owner: "a", Name: "b"}, IssueRequest{Title: "Fix auth", Body: "details", Labels: []string{"security"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue.Number != 7 || issue.HTMLURL != "https://github.com/a/b/issues/7" {
		t.Fatalf("unexpected issue %+v", issue)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("authorization header %q", gotAuth)
	}
	if gotBody["title"] != "Fix auth" {
		t.Fatalf("request body %v", gotBody)
	}
}

func TestCreateIssueErrorMapping(t *testing.T) {
	for status, want := range map[int]error{
		http.StatusForbidden: ErrForbidden,
		http.StatusNotFound:  ErrRepoNotFound,
	} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"message":"nope"}`)
		}))
		_, err := c.CreateIssue(context.Background(), Repo{Owner: "a", Name: "b"}, IssueRequest{Title: "t", Body: "b"})
		if !errors.Is(err, want) {
			t.Fatalf("status %d: expected %v, got %v", status, want, err)
		}
	}
}

func TestListIssuesPaginatesAndSkipsPulls(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"number":3,"title":"three","state":"open"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/a/b/issues?page=2>; rel="next"`, srvURL))
		fmt.Fprint(w, `[{"number":1,"title":"one","state":"open"},{"number":2,"title":"pr","state":"open","pull_request":{"url":"x"}}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL
	c, err := NewClient("").WithBaseURL(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	issues, err := c.ListIssues(context.Background(), Repo{Owner: "a", Name: "b"}, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var nums []int
	for _, is := range issues {
		nums = append(nums, is.Number)
	}
	if diff := cmp.Diff([]int{1, 3}, nums); diff != "" {
		t.Fatalf("issue numbers (-want +got):\n%s", diff)
	}
}
