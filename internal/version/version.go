// Package version reports which build of the bridge is running.
package version

import "fmt"

// Stamped by the release build:
//
//	-ldflags "-X ingestbridge/internal/version.BuildNumber=N -X ingestbridge/internal/version.GitCommit=SHA"
var (
	BuildNumber = "0"
	GitCommit   = ""
)

// Service names this binary in logs and traces.
const Service = "ingest-bridge"

// String renders the build number, with the commit appended when one was stamped.
func String() string {
	switch GitCommit {
	case "", "unknown":
		return fmt.Sprintf("build %s", BuildNumber)
	}
	return fmt.Sprintf("build %s (%s)", BuildNumber, GitCommit)
}
