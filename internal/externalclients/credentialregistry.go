/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package externalclients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/communitytrust/verification/pkg/verification/domain"
)

// HTTPCredentialRegistry calls an external registry over HTTP for a
// principal's current professional-credential set (notary/attorney/
// government-official/community-leader, spec.md §4.4). Activities wraps
// this with retry and a circuit breaker, so this client makes no attempt
// at its own retry logic.
type HTTPCredentialRegistry struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCredentialRegistry builds a registry client. baseURL must point
// at a service exposing GET {baseURL}/credentials?principal_id=...
func NewHTTPCredentialRegistry(baseURL string, timeout time.Duration) *HTTPCredentialRegistry {
	return &HTTPCredentialRegistry{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type credentialsResponse struct {
	Credentials []string `json:"credentials"`
}

// Lookup implements activities.CredentialRegistry.
func (r *HTTPCredentialRegistry) Lookup(ctx context.Context, principalID string) (map[domain.Credential]bool, error) {
	u := r.baseURL + "/credentials?principal_id=" + url.QueryEscape(principalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build credential lookup request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call credential registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential registry returned status %d", resp.StatusCode)
	}

	var out credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode credential response: %w", err)
	}

	result := make(map[domain.Credential]bool, len(out.Credentials))
	for _, c := range out.Credentials {
		result[domain.Credential(c)] = true
	}
	return result, nil
}

// NoopCredentialRegistry is used when no registry URL is configured; it
// reports no credentials for anyone, so the auto-qualifying-credential
// authorization rule simply never fires in deployments that haven't
// wired a real registry.
type NoopCredentialRegistry struct{}

func (NoopCredentialRegistry) Lookup(context.Context, string) (map[domain.Credential]bool, error) {
	return map[domain.Credential]bool{}, nil
}
