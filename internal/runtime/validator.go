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

package runtime

import (
	"fmt"
	"strings"
)

// Validate checks spec against adapter's capabilities and constraints,
// collecting every violation rather than stopping at the first.
func Validate(spec ContainerJobSpec, adapter Adapter) []string {
	var violations []string

	caps := adapter.Capabilities()
	if spec.Resources.GPU > 0 && !caps.SupportsGPU {
		violations = append(violations, "gpu requested but adapter does not support gpu")
	}
	if len(spec.Volumes) > 0 && !caps.SupportsVolumes {
		violations = append(violations, "volumes requested but adapter does not support volumes")
	}
	if len(spec.Sidecars) > 0 && !caps.SupportsSidecars {
		violations = append(violations, "sidecars requested but adapter does not support sidecars")
	}
	if len(spec.InitContainers) > 0 && !caps.SupportsInitContainers {
		violations = append(violations, "init containers requested but adapter does not support init containers")
	}

	cons := adapter.Constraints()
	if cons.MaxTimeoutSeconds > 0 && spec.TimeoutSeconds > cons.MaxTimeoutSeconds {
		violations = append(violations, fmt.Sprintf("timeout %ds exceeds max %ds", spec.TimeoutSeconds, cons.MaxTimeoutSeconds))
	}
	if cons.MaxEnvCount > 0 && len(spec.Env) > cons.MaxEnvCount {
		violations = append(violations, fmt.Sprintf("env count %d exceeds max %d", len(spec.Env), cons.MaxEnvCount))
	}
	if cons.MaxLabelCount > 0 && len(spec.Labels) > cons.MaxLabelCount {
		violations = append(violations, fmt.Sprintf("label count %d exceeds max %d", len(spec.Labels), cons.MaxLabelCount))
	}

	if spec.MaxCostUSD != nil && *spec.MaxCostUSD < 0 {
		violations = append(violations, "max_cost_usd must not be negative")
	}

	return violations
}

// ValidateOrRaise runs Validate and, if any violations were found, returns
// a non-retryable VALIDATION JobError with the violations concatenated.
func ValidateOrRaise(spec ContainerJobSpec, adapter Adapter) error {
	violations := Validate(spec, adapter)
	if len(violations) == 0 {
		return nil
	}
	err := NewJobError(adapter.Name(), CategoryValidation, strings.Join(violations, "; "))
	err.Retryable = false
	return err
}
