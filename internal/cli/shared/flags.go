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

// Global flag values, set by the root command and read by every subcommand.
var (
	verboseFlag bool
	jsonFlag    bool
	dryRunFlag  bool

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers bound to the root command's
// persistent flags.
func RegisterFlagPointers() (*bool, *bool, *bool) {
	return &verboseFlag, &jsonFlag, &dryRunFlag
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose reports whether -v/--verbose was passed.
func GetVerbose() bool {
	return verboseFlag
}

// GetJSON reports whether --json was passed.
func GetJSON() bool {
	return jsonFlag
}

// GetDryRun reports whether --dry-run was passed; the executions submit,
// cancel and retry calls and the workflow run call send it as the dry_run
// query parameter.
func GetDryRun() bool {
	return dryRunFlag
}
