package build

const (
	LibraryName = "newrelic-labs-emitter"
)

type BuildInfo struct {
	Name    string
	Version string
	Commit  string
	Date    string
}

var (
	gBuildVersion string
	gBuildCommit  string
	gBuildDate    string
	gBuildInfo    BuildInfo
)

func init() {
	gBuildInfo.Name = LibraryName
	gBuildInfo.Version = gBuildVersion
	gBuildInfo.Commit = gBuildCommit
	gBuildInfo.Date = gBuildDate

	// Not built with ldflags (go test, go run)
	if gBuildInfo.Version == "" {
		gBuildInfo.Version = "dev"
	}
}

func GetBuildInfo() BuildInfo {
	return gBuildInfo
}
