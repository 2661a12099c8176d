package version

import "fmt"

var (
	defaultVersionString = "0.0.0-git"
	versionString        = ""
	commit                = ""
	date                  = ""

	// Info holds the version metadata reported by `avrispd version`.
	Info *info
)

type info struct {
	Application   string `json:"application"`
	VersionString string `json:"versionString"`
	Commit        string `json:"commit"`
	Date          string `json:"date"`
}

func (i *info) String() string {
	return fmt.Sprintf("%s version %s commit %s built %s", i.Application, i.VersionString, i.Commit, i.Date)
}

func init() {
	if versionString == "" {
		versionString = defaultVersionString
	}
	Info = &info{Application: "avrispd", VersionString: versionString, Commit: commit, Date: date}
}
