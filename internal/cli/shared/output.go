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
	"encoding/json"
	"fmt"
	"os"
)

// opEnvelope mirrors operations.OperationResult's JSON shape without
// importing the operations package, which would pull the whole daemon
// dependency graph into the CLI binary for a handful of struct tags.
type opEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *opError        `json:"error,omitempty"`
}

type opError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EmitResult prints a conductord response body to stdout in the format the
// --json flag selects, and turns an unsuccessful envelope into an *ExitError
// so the caller can return it straight from a cobra RunE.
func EmitResult(body []byte) error {
	var env opEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("malformed response from daemon: %w (%s)", err, string(body))
	}

	if GetJSON() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(env)
	} else if env.Success {
		printHuman(env.Data)
	}

	if env.Success {
		return nil
	}
	return &ExitError{Code: exitCodeFor(env.Error), Message: fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message)}
}

func exitCodeFor(e *opError) int {
	if e == nil {
		return ExitOperationFailed
	}
	switch e.Code {
	case "NOT_FOUND":
		return ExitNotFound
	case "VALIDATION_FAILED":
		return ExitValidationFailed
	default:
		return ExitOperationFailed
	}
}

// printHuman pretty-prints a result's data payload for a non-JSON caller.
// The payloads conductord returns are already small, structured JSON
// objects or arrays, so re-indenting them is a reasonable default until a
// command needs a bespoke table.
func printHuman(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	fmt.Println(prettyPrint(data))
}

func prettyPrint(data json.RawMessage) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(out)
}
