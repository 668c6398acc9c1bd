package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runWith(t *testing.T, endpoint string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--endpoint", endpoint, "--token", "test-token"}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestPoolsListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pools" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatalf("query must not send credentials")
		}
		_ = json.NewEncoder(w).Encode([]poolView{{ID: 0, StakeAsset: "LP", AllocationPoints: 1000, TotalAllocatedSupply: "2500000"}})
	}))
	defer srv.Close()

	code, out, errOut := runWith(t, srv.URL, "pools")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "LP") || !strings.Contains(out, "2,500,000") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDepositSendsBearerAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pools/3/deposit" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected authorization %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["amount"] != "100" {
			t.Fatalf("unexpected amount %q", body["amount"])
		}
		_ = json.NewEncoder(w).Encode(receiptView{
			Pool:      3,
			Harvested: "0",
			Position:  positionView{Amount: "100", RewardDebt: "0"},
			Transfers: []transferView{{Direction: "in", Asset: "LP", Party: "farm1xyz", Amount: "100"}},
		})
	}))
	defer srv.Close()

	code, out, errOut := runWith(t, srv.URL, "deposit", "3", "--amount", "100")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "IN  100 LP farm1xyz") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestServerErrorExitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"farm: unknown pool: 9"}`))
	}))
	defer srv.Close()

	code, _, errOut := runWith(t, srv.URL, "pool", "9")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut, "404") || !strings.Contains(errOut, "unknown pool") {
		t.Fatalf("unexpected stderr: %s", errOut)
	}
}

func TestArgumentValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL.Path)
	}))
	defer srv.Close()

	cases := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"bogus"}},
		{"bad pool id", []string{"pool", "x"}},
		{"deposit without amount", []string{"deposit", "0"}},
		{"credit without target", []string{"admin", "credit", "--asset", "RWD", "--amount", "1"}},
		{"credit with both targets", []string{"admin", "credit", "--asset", "RWD", "--amount", "1", "--engine", "--account", "farm1xyz"}},
		{"weight out of range", []string{"admin", "set-weight", "0", "--weight", "300"}},
	}
	for _, tc := range cases {
		code, _, _ := runWith(t, srv.URL, tc.args...)
		if code != 1 {
			t.Fatalf("%s: expected exit 1, got %d", tc.name, code)
		}
	}
}

func TestUpdateWithoutPoolsSendsNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/admin/pools/update" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.ContentLength > 0 {
			t.Fatalf("expected empty body")
		}
		_ = json.NewEncoder(w).Encode([]poolView{})
	}))
	defer srv.Close()

	code, out, errOut := runWith(t, srv.URL, "admin", "update")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "No pools registered") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[string]string{
		"0":                          "0",
		"1234567":                    "1,234,567",
		"123456789012345678901234":   "123,456,789,012,345,678,901,234",
		"not-a-number":               "not-a-number",
	}
	for in, want := range cases {
		if got := formatAmount(in); got != want {
			t.Fatalf("formatAmount(%q) = %q, want %q", in, got, want)
		}
	}
}
