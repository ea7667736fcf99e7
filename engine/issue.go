/*
issue.go - Advisory and blocking issue model

PURPOSE:
  Validators don't fail fast. Every check a command runs contributes zero
  or more Issues, the full list is collected, and the command halts only
  if a blocking issue is present. The caller gets everything at once so a
  UI can display all warnings together.

SEVERITIES:
  blocking: Hard rejection. The command does not proceed.
  strong:   "Blocking-class" warning. Submission is still permitted, but
            the API surfaces it distinctly so a client can require an
            explicit re-confirmation (night-time overrides, AM/PM
            confusion). Deliberately not a hard stop - see the ordered
            rule list in the override package.
  advisory: Informational. Quota shortfalls, unusual-hours hints,
            unavailable lookups.
*/
package engine

// =============================================================================
// ISSUE - One validator finding
// =============================================================================

type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityStrong   Severity = "strong"
	SeverityAdvisory Severity = "advisory"
)

// Issue is a single validator finding attached to a command result.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func Blocking(code, message string) Issue {
	return Issue{Severity: SeverityBlocking, Code: code, Message: message}
}

func Strong(code, message string) Issue {
	return Issue{Severity: SeverityStrong, Code: code, Message: message}
}

func Advisory(code, message string) Issue {
	return Issue{Severity: SeverityAdvisory, Code: code, Message: message}
}

// =============================================================================
// ISSUE LIST
// =============================================================================

type IssueList []Issue

func (l IssueList) HasBlocking() bool {
	for _, is := range l {
		if is.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking issues.
func (l IssueList) Blocking() []Issue {
	var out []Issue
	for _, is := range l {
		if is.Severity == SeverityBlocking {
			out = append(out, is)
		}
	}
	return out
}

// Has reports whether an issue with the given code is present.
func (l IssueList) Has(code string) bool {
	for _, is := range l {
		if is.Code == code {
			return true
		}
	}
	return false
}
