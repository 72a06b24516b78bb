package crawler

import (
	"errors"

	"github.com/Sriram-PR/polite-crawler/pkg/models"
	"github.com/Sriram-PR/polite-crawler/pkg/utils"
)

// ReportFor summarises the result of one Crawl or Resolve call
// page and res may be nil; the one matching the call is attached on success
func ReportFor(rawURL string, page *models.Page, res *models.Resolution, err error) models.Report {
	report := models.Report{
		URL:        rawURL,
		Outcome:    OutcomeOf(err),
		Page:       page,
		Resolution: res,
	}
	if page != nil {
		report.AttemptID = page.AttemptID
		report.Domain = page.Domain
		report.StatusCode = page.StatusCode
	}
	if err == nil {
		return report
	}

	report.Error = err.Error()
	report.ErrorCategory = utils.CategorizeError(err)
	var fe *FetchError
	if errors.As(err, &fe) {
		report.AttemptID = fe.AttemptID
		report.Domain = fe.Domain
		report.StatusCode = fe.StatusCode
		if fe.RetryAfter != nil {
			report.RetryAfterSeconds = fe.RetryAfter.Seconds
		}
	}
	return report
}
