package uuidtransport_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/discard"

	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidendpoint"
	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidservice"
	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidtransport"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := uuidservice.New("test", 10*time.Millisecond)
	endpoints := uuidendpoint.New(svc, log.NewNopLogger(), discard.NewHistogram())
	srv := httptest.NewServer(uuidtransport.NewHTTPHandler(endpoints, log.NewNopLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateHTTP(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/uuid/get")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var body struct {
		UUID       string `json:"uuid"`
		InstanceID string `json:"instanceId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(body.UUID); err != nil {
		t.Errorf("uuid %q: %v", body.UUID, err)
	}
	if body.InstanceID != "test" {
		t.Errorf("instanceId: got %q, want %q", body.InstanceID, "test")
	}
}

func TestCorrelatedHTTP(t *testing.T) {
	srv := newTestServer(t)
	for _, tc := range []struct {
		name string
		path string
		want string
	}{
		{"query parameter", "/api/v1/uuid/get-id?id=abc", "id abc : uuid "},
		{"query parameter absent", "/api/v1/uuid/get-id", "id null : uuid "},
		{"path segment", "/api/v1/uuid/path/get/42", "id 42 : uuid "},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status: got %d, want 200", resp.StatusCode)
			}
			var body struct {
				Message    string `json:"message"`
				InstanceID string `json:"instanceId"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(body.Message, tc.want) {
				t.Errorf("message: got %q, want prefix %q", body.Message, tc.want)
			}
		})
	}
}

func TestGenerateSlowHTTP(t *testing.T) {
	srv := newTestServer(t)
	begin := time.Now()
	resp, err := http.Get(srv.URL + "/api/v1/uuid/get-slow")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if took := time.Since(begin); took < 10*time.Millisecond {
		t.Errorf("answered after %v, want at least the configured delay", took)
	}
}

func TestForcedErrorHTTP(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/uuid/get/error")
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("invocation %d: status: got %d, want 500", i, resp.StatusCode)
		}
		if len(body) != 0 {
			t.Fatalf("invocation %d: body: got %q, want empty", i, body)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/uuid/get", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}
