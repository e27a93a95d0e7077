// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/conductor-core/conductor/pkg/httpclient"
)

// BuildDaemonURL constructs a full conductord API URL with query parameters.
func BuildDaemonURL(path string, params map[string]string) string {
	baseURL := os.Getenv("CONDUCTOR_DAEMON_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	u, err := url.Parse(baseURL + path)
	if err != nil {
		return baseURL + path
	}

	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// MakeAPIRequest makes an HTTP request against conductord and returns the
// raw response body. conductord's operation responses carry success/error
// in the body itself, so a non-2xx status is not treated as a transport
// error here; EmitResult is what turns a failed envelope into an ExitError.
func MakeAPIRequest(method, reqURL string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token := os.Getenv("CONDUCTOR_API_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "conductor-cli/1.0"

	client, err := httpclient.New(cfg)
	if err != nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, NewConnectionError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, nil
}
