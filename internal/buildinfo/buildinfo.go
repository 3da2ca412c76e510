// Package buildinfo holds build metadata injected with ldflags, e.g.
//
//	go build -ldflags "-X github.com/newflowio/elova/internal/buildinfo.Version=v0.4.0"
package buildinfo

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	Name        = "Elova"
	Description = "Workflow observability platform for n8n"
	Repository  = "https://github.com/newflowio/elova"
)

type Links struct {
	Documentation string `json:"documentation"`
	Repository    string `json:"repository"`
	Issues        string `json:"issues"`
}

type About struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	GitCommit   string `json:"gitCommit"`
	BuildDate   string `json:"buildDate"`
	Environment string `json:"environment"`
	Links       Links  `json:"links"`
}

// Info describes the running binary. Empty ldflags values read as "dev"
// and "unknown".
func Info(environment string) About {
	return About{
		Name:        Name,
		Version:     orDefault(Version, "dev"),
		Description: Description,
		GitCommit:   orDefault(GitCommit, "unknown"),
		BuildDate:   orDefault(BuildDate, "unknown"),
		Environment: orDefault(environment, "development"),
		Links: Links{
			Documentation: Repository,
			Repository:    Repository,
			Issues:        Repository + "/issues",
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
