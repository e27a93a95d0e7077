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

package operations

import (
	"context"

	"github.com/conductor-core/conductor/internal/manifest"
)

// ListManifestEntries returns the partition-stage history for a domain and
// partition key, oldest first.
func (f *Facade) ListManifestEntries(ctx context.Context, domain, partitionKey string) OperationResult[[]*manifest.Entry] {
	return run(func() ([]*manifest.Entry, error) {
		return f.Manifest.History(ctx, domain, partitionKey)
	})
}
