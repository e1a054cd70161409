// Package version хранит сведения о сборке stockflow, которые задаются через -ldflags.
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shortCommitLen = 7

// Build — версия, коммит и дата сборки бинарника.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// ShortCommit обрезает хеш коммита до семи символов.
func (b Build) ShortCommit() string {
	if len(b.Commit) > shortCommitLen {
		return b.Commit[:shortCommitLen]
	}
	return b.Commit
}

func (b Build) String() string {
	return fmt.Sprintf("stockflow %s (%s, built %s)", b.Version, b.ShortCommit(), b.Date)
}

// Fields — поля для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.ShortCommit(), "build_date": b.Date}
}
