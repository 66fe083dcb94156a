package hermes

const (
	SubjectAnswerSubmitted = "zi.answer.submitted"

	StreamName   = "ZI_EVENTS"
	StreamMaxAge = "2160h" // 90 days
)

var StreamSubjects = []string{"zi.report.>", "zi.quality.>", "zi.answer.>"}

// Report lifecycle subjects
func SubjectReportDrafted(reportID string) string   { return "zi.report." + reportID + ".drafted" }
func SubjectReportFinalized(reportID string) string { return "zi.report." + reportID + ".finalized" }
func SubjectReportFailed(reportID string) string    { return "zi.report." + reportID + ".failed" }
func SubjectReportArchived(reportID string) string  { return "zi.report." + reportID + ".archived" }

// Data quality subjects
func SubjectQualityDefects(projectID string) string { return "zi.quality." + projectID + ".defects" }
