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

package scheduler

import (
	"context"
	"time"

	"github.com/conductor-core/conductor/internal/ledger"
)

// LedgerTrigger implements Trigger by dropping a new execution row into the
// ledger, keyed "<target_type>:<target_name>" exactly like any other
// operation identifier. The dispatcher's handler registry resolves that
// identifier the same way it resolves one submitted directly, so task and
// workflow schedules need no special-casing here.
type LedgerTrigger struct {
	Ledger *ledger.Ledger
}

// NewLedgerTrigger builds a Trigger backed by the given ledger.
func NewLedgerTrigger(led *ledger.Ledger) *LedgerTrigger {
	return &LedgerTrigger{Ledger: led}
}

// Trigger satisfies the Trigger interface.
func (t *LedgerTrigger) Trigger(ctx context.Context, sched Schedule) (string, error) {
	params := sched.ParamsTemplate
	if params == nil {
		params = map[string]any{}
	}
	exec, err := t.Ledger.CreateExecution(ctx, &ledger.Execution{
		Workflow:      sched.TargetType + ":" + sched.TargetName,
		Params:        params,
		TriggerSource: ledger.TriggerSchedule,
		LogicalKey:    "schedule:" + sched.ID + ":" + sched.NextRunAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}
	return exec.ID, nil
}
