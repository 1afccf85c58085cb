package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/pagination"
	"github.com/chain-data-gateway/internal/router"
)

func TestDoAttachesServiceCredential(t *testing.T) {
	var gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Upstream-Key")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	f := New(srv.Client(), Config{CredentialHeader: "X-Upstream-Key", Credential: "svc-secret", Timeout: time.Second})
	resp, err := f.Do(context.Background(), Request{
		EndpointID: "tvl",
		URL:        srv.URL + "/tvl?chain=eth",
		Query:      url.Values{"chain": {"sol"}, "limit": {"5"}, "api_key": {"caller"}, "offset": {"2"}},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if gotKey != "svc-secret" {
		t.Fatalf("expected service credential upstream, got %q", gotKey)
	}
	if gotQuery != "chain=eth&limit=5" {
		t.Fatalf("unexpected upstream query %q", gotQuery)
	}
	if string(resp.Body) != `{"ok":true}` || resp.ContentType != "application/json" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDoReportsStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "down")
	}))
	defer srv.Close()

	_, err := New(srv.Client(), Config{}).Do(context.Background(), Request{URL: srv.URL})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError 503, got %v", err)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Fatal("StatusError should unwrap to ErrUpstream")
	}
}

func TestDoTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(srv.Client(), Config{Timeout: 50 * time.Millisecond}).Do(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestDoErrorHidesCredentialAndURL(t *testing.T) {
	f := New(nil, Config{Credential: "svc-secret", Timeout: time.Second})
	_, err := f.Do(context.Background(), Request{URL: "http://127.0.0.1:1/path?token=abc"})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "svc-secret") || strings.Contains(err.Error(), "token=abc") {
		t.Fatalf("error leaks sensitive data: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"array", `[1,2,3]`, "array"},
		{"rows", `{"rows":[1],"meta":{}}`, "rows"},
		{"data", `{"data":[1]}`, "rows"},
		{"nested result rows", `{"result":{"rows":[1],"metadata":{"n":1}}}`, "rows"},
		{"data object with rows", `{"data":{"rows":[1]}}`, "rows"},
		{"object", `{"price":1.5}`, "object"},
		{"rows not array", `{"rows":"nope"}`, "object"},
		{"scalar", `42`, "object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Classify([]byte(tt.body))
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			var got string
			switch p.(type) {
			case PayloadArray:
				got = "array"
			case PayloadRows:
				got = "rows"
			case PayloadObject:
				got = "object"
			}
			if got != tt.want {
				t.Fatalf("classified as %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Classify([]byte("not json")); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream for invalid JSON, got %v", err)
	}
}

func numbers(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprint(i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestReshapeArray(t *testing.T) {
	p, err := Classify([]byte(numbers(25)))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	out, err := Reshape(p, 3, pagination.Options{PageSize: 10, Path: "/gateway/x"})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}

	var res pagination.Result
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Data) != 5 || res.Pagination.TotalPages != 3 || res.Pagination.HasNextPage {
		t.Fatalf("unexpected page %+v", res.Pagination)
	}
}

func TestReshapeNestedRowsKeepsEnvelope(t *testing.T) {
	body := `{"execution_id":"e1","result":{"rows":` + numbers(25) + `,"metadata":{"cols":1}}}`
	p, err := Classify([]byte(body))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	out, err := Reshape(p, 2, pagination.Options{PageSize: 10, Path: "/gateway/q"})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}

	var got struct {
		ExecutionID string `json:"execution_id"`
		Result      struct {
			Rows     []int          `json:"rows"`
			Metadata map[string]int `json:"metadata"`
		} `json:"result"`
		IsComplete bool             `json:"is_complete"`
		Pagination *pagination.Info `json:"pagination"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ExecutionID != "e1" || got.Result.Metadata["cols"] != 1 {
		t.Fatalf("envelope lost: %s", out)
	}
	if len(got.Result.Rows) != 10 || got.Result.Rows[0] != 10 {
		t.Fatalf("unexpected rows %v", got.Result.Rows)
	}
	if got.IsComplete || got.Pagination == nil || got.Pagination.CurrentPage != 2 {
		t.Fatalf("unexpected pagination %s", out)
	}
}

func TestReshapeSmallRowsIsComplete(t *testing.T) {
	p, _ := Classify([]byte(`{"rows":[1,2]}`))
	out, err := Reshape(p, 1, pagination.Options{})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if string(out) != `{"is_complete":true,"rows":[1,2]}` {
		t.Fatalf("unexpected body %s", out)
	}
}

func TestReshapeObjectPassesThrough(t *testing.T) {
	p, _ := Classify([]byte(` {"price": 1.5} `))
	out, err := Reshape(p, 9, pagination.Options{})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if string(out) != `{"price": 1.5}` {
		t.Fatalf("unexpected body %s", out)
	}
}

func TestReshapeOutOfRange(t *testing.T) {
	p, _ := Classify([]byte(numbers(25)))
	_, err := Reshape(p, 4, pagination.Options{PageSize: 10})
	var rangeErr *pagination.RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
}

func TestDoKeepsCapturedValuesOpaque(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	endpoints := []model.Endpoint{{
		ID:          "balance",
		Path:        "/wallets/{address}/balance",
		UpstreamURL: srv.URL + "/v1/wallets/{address}/balance",
	}}
	f := New(srv.Client(), Config{Timeout: time.Second})

	tests := []struct {
		name     string
		escaped  string
		wantPath string
	}{
		{"query and fragment", "0xabc%3Fadmin=true%23", "/v1/wallets/0xabc%3Fadmin=true%23/balance"},
		{"space", "a%20b", "/v1/wallets/a%20b/balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse("/wallets/" + tt.escaped + "/balance")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			m, err := router.Resolve(u.Path, endpoints)
			if err != nil {
				t.Fatalf("resolve %q: %v", u.Path, err)
			}
			if _, err := f.Do(context.Background(), Request{EndpointID: "balance", URL: m.UpstreamURL()}); err != nil {
				t.Fatalf("do: %v", err)
			}
			if gotPath != tt.wantPath {
				t.Fatalf("expected upstream path %q, got %q", tt.wantPath, gotPath)
			}
			if gotQuery != "" {
				t.Fatalf("expected no upstream query, got %q", gotQuery)
			}
		})
	}
}

func TestDoRejectsOversizedResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"at limit", `{"a":"12345"}`, false},
		{"one byte over", `{"a":"123456"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			f := New(srv.Client(), Config{Timeout: time.Second, MaxBodyBytes: 13})
			resp, err := f.Do(context.Background(), Request{URL: srv.URL})
			if !tt.wantErr {
				if err != nil || string(resp.Body) != tt.body {
					t.Fatalf("expected full body, got %v %v", resp, err)
				}
				return
			}
			if !errors.Is(err, ErrTooLarge) || !errors.Is(err, ErrUpstream) {
				t.Fatalf("expected ErrTooLarge wrapping ErrUpstream, got %v", err)
			}
		})
	}
}
