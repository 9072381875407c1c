// Package model defines the data structures shared by every stage of an
// archival run.
//
// # RepositoryDescriptor
//
// A [RepositoryDescriptor] identifies one repository returned by the server
// listing. It is immutable once discovered:
//
//	type RepositoryDescriptor struct {
//	    ID            string // Server-side repository GUID
//	    Name          string // Display name, source of the on-disk name
//	    RemoteURL     string // Clone URL
//	    DefaultBranch string // e.g. "refs/heads/master"
//	}
//
// # ArchivalTask
//
// An [ArchivalTask] is the unit of work for one repository. The orchestrator
// creates it, advances it with [ArchivalTask.Enter] and finalizes it with
// [ArchivalTask.Succeed], [ArchivalTask.Skip] or [ArchivalTask.Fail].
// [ArchivalTask.StageReached] never moves backwards.
//
// # RunConfiguration
//
// [RunConfiguration] is supplied once per run and is read-only afterwards.
// Credentials are a sealed variant: [TokenCredentials] or [BasicCredentials].
//
// # RunReport
//
// [RunReport] holds the finalized tasks in completion order plus the summary
// counts used for the process exit status.
package model
