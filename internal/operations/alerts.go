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

	"github.com/conductor-core/conductor/internal/alerts"
)

// ListAlertChannels returns every registered alert channel.
func (f *Facade) ListAlertChannels(ctx context.Context) OperationResult[[]*alerts.Channel] {
	return run(func() ([]*alerts.Channel, error) {
		return f.Alerts.ListChannels(ctx)
	})
}

// CreateAlertChannel registers a new alert channel.
func (f *Facade) CreateAlertChannel(ctx context.Context, opCtx OperationContext, ch *alerts.Channel) OperationResult[*alerts.Channel] {
	if result, skip := dryRunSkip(opCtx, ch); skip {
		return result
	}
	return run(func() (*alerts.Channel, error) {
		return f.Alerts.CreateChannel(ctx, ch)
	})
}

// ListAlerts returns alerts still awaiting acknowledgement.
func (f *Facade) ListAlerts(ctx context.Context, limit, offset int) OperationResult[PagedResult[*alerts.Alert]] {
	return run(func() (PagedResult[*alerts.Alert], error) {
		items, err := f.Alerts.ListUnacknowledged(ctx, limit, offset)
		if err != nil {
			return PagedResult[*alerts.Alert]{}, err
		}
		return PagedResult[*alerts.Alert]{Items: items, Total: len(items), Limit: limit, Offset: offset}, nil
	})
}

// CreateAlert raises a new alert.
func (f *Facade) CreateAlert(ctx context.Context, opCtx OperationContext, a *alerts.Alert) OperationResult[*alerts.Alert] {
	if result, skip := dryRunSkip(opCtx, a); skip {
		return result
	}
	return run(func() (*alerts.Alert, error) {
		return f.Alerts.Raise(ctx, a)
	})
}

// AcknowledgeAlert marks an alert handled.
func (f *Facade) AcknowledgeAlert(ctx context.Context, opCtx OperationContext, id, by string) OperationResult[bool] {
	if result, skip := dryRunSkip(opCtx, true); skip {
		return result
	}
	return run(func() (bool, error) {
		return true, f.Alerts.Acknowledge(ctx, id, by)
	})
}
