package git

// MergeOptions configures a git merge operation. Exactly one of Branch or
// Abort must be set — there is no Continue step for a plain merge the
// way there is for rebase: after resolving conflicts by hand the caller
// commits directly (spec §4.7's merge-ralph flow).
type MergeOptions struct {
	// Branch is the branch to merge into the current branch.
	Branch string

	// Abort aborts an in-progress merge. Mutually exclusive with Branch.
	Abort bool
}

// MergeResult contains the outcome of a merge operation.
type MergeResult struct {
	// Success indicates whether the merge completed successfully
	Success bool

	// HasConflicts indicates whether merge conflicts were detected
	HasConflicts bool

	// ConflictedFiles lists files with merge conflicts
	ConflictedFiles []string

	// CurrentBranch is the branch that was merged into
	CurrentBranch string

	// MergedBranch is the branch that was merged in
	MergedBranch string

	// ErrorMessage contains any error message from the merge operation
	ErrorMessage string

	// AbortedSuccessfully indicates if an abort operation succeeded
	AbortedSuccessfully bool
}
