package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/agentgate/agentgate/pkg/types"
)

func TestAuthorizeSendsAPIKey(t *testing.T) {
	var gotKey string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"allow":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sekrit")
	d, err := c.Authorize(context.Background(), types.OperationContext{Operation: types.OpRead, TargetPath: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow {
		t.Error("expected allow")
	}
	if gotKey != "sekrit" {
		t.Errorf("X-API-Key = %q", gotKey)
	}
	if gotPath != "/api/v1/authorize" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestAuthorizeDenialIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"allow":false,"reasons":["restricted path"]}`))
	}))
	defer srv.Close()

	d, err := New(srv.URL, "").Authorize(context.Background(), types.OperationContext{Operation: types.OpWrite})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow {
		t.Error("expected deny")
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "restricted path" {
		t.Errorf("reasons = %v", d.Reasons)
	}
}

func TestErrorIncludesServerBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Status(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "boom"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}
}

func TestSearchEventsQueryString(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	q := url.Values{}
	q.Set("type", "access_denied")
	q.Set("since", "15m")
	if _, err := New(srv.URL, "").SearchEvents(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	if gotQuery.Get("type") != "access_denied" || gotQuery.Get("since") != "15m" {
		t.Errorf("query = %v", gotQuery)
	}
}
