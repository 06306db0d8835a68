// Package main is a post-deployment smoke test. It calls the health, readiness and
// version endpoints of a running server and, when AKP_SMOKE_API_KEY is set, the gateway
// introspection endpoint with that key. It prints each status and exits non-zero if any
// check fails.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

type check struct {
	name   string
	path   string
	apiKey string
}

func main() {
	baseURL := strings.TrimRight(os.Getenv("AKP_SMOKE_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	checks := []check{
		{name: "health", path: "/api/health"},
		{name: "ready", path: "/ready"},
		{name: "version", path: "/version"},
	}
	if key := os.Getenv("AKP_SMOKE_API_KEY"); key != "" {
		checks = append(checks, check{name: "introspect", path: "/api/v1/gateway/introspect", apiKey: key})
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetUserAgent("api-key-provider-smoke")

	failed := 0
	for _, c := range checks {
		r := client.R()
		if c.apiKey != "" {
			r.SetHeader("X-API-Key", c.apiKey)
		}
		resp, err := r.Get(c.path)
		if err != nil {
			fmt.Printf("%-10s ERROR %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("%-10s %d %s\n", c.name, resp.StatusCode, resp.String())
		if resp.IsErrorState() {
			failed++
		}
	}

	if failed > 0 {
		fmt.Printf("%d of %d checks failed\n", failed, len(checks))
		os.Exit(1)
	}
}
