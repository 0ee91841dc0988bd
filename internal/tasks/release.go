package tasks

import (
	"path"
	"time"
)

// ReleaseNameLayout formats release directory names. Names sort
// chronologically as plain strings.
const ReleaseNameLayout = "20060102150405"

// Release is the set of paths a run writes under deploy_to.
type Release struct {
	Name         string
	DeployTo     string
	Path         string
	ReleasesPath string
	SharedPath   string
	CurrentPath  string
}

// ReleaseName formats t in UTC as a release directory name.
func ReleaseName(t time.Time) string {
	return t.UTC().Format(ReleaseNameLayout)
}

// NewRelease lays out the paths for release name under deployTo.
func NewRelease(deployTo, name string) Release {
	releases := path.Join(deployTo, "releases")
	return Release{
		Name:         name,
		DeployTo:     deployTo,
		Path:         path.Join(releases, name),
		ReleasesPath: releases,
		SharedPath:   path.Join(deployTo, "shared"),
		CurrentPath:  path.Join(deployTo, "current"),
	}
}

// ValidReleaseName reports whether name matches ReleaseNameLayout.
func ValidReleaseName(name string) bool {
	if len(name) != len(ReleaseNameLayout) {
		return false
	}
	_, err := time.Parse(ReleaseNameLayout, name)
	return err == nil
}
