package browser

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// clickViewReport finds the report form's submit control. The portal labels
// it inconsistently, so text matching comes first and a generic submit
// button is the fallback.
const clickViewReportJS = `(function() {
	var buttons = document.getElementsByTagName('button');
	for (var i = 0; i < buttons.length; i++) {
		var text = buttons[i].innerText || '';
		if (text.indexOf('View') >= 0 || text.indexOf('Report') >= 0) {
			buttons[i].click();
			return true;
		}
	}
	var submits = document.querySelectorAll("button[type='submit']");
	if (submits.length > 0) {
		submits[0].click();
		return true;
	}
	return false;
})()`

// clickExcelExportJS clicks the report viewer's Excel export link.
const clickExcelExportJS = `(function() {
	var links = document.querySelectorAll('a');
	for (var i = 0; i < links.length; i++) {
		var text = links[i].innerText || '';
		if (links[i].title === 'Excel' || text.indexOf('Excel') >= 0) {
			links[i].click();
			return true;
		}
	}
	links = document.querySelectorAll('a[onclick*="exportReport"]');
	if (links.length > 0) {
		links[0].click();
		return true;
	}
	return false;
})()`

// exportDirectJS drives the viewer's export command when no clickable link
// can be found.
const exportDirectJS = `$find('ReportViewer1').exportReport('EXCELOPENXML');`

// GenerateReport logs into the attendance portal, submits the daily report
// form for reportDate (2006-01-02) and downloads the exported spreadsheet
// into scratchDir. Returns the downloaded file's path.
func (d *Driver) GenerateReport(ctx context.Context, scratchDir string, creds Credentials, reportDate string) (string, error) {
	var resultPath string

	err := d.withSession(ctx, scratchDir, func(ctx context.Context) error {
		if err := d.login(ctx, creds); err != nil {
			return err
		}

		if err := d.runStage(ctx, "open report form",
			chromedp.Navigate(d.cfg.PortalURL+"/DailyReports"),
			chromedp.Sleep(2*time.Second),
		); err != nil {
			return err
		}

		if err := d.runStage(ctx, "fill report form",
			chromedp.WaitVisible("#Date", chromedp.ByID),
			chromedp.Clear("#Date", chromedp.ByID),
			chromedp.SendKeys("#Date", reportDate, chromedp.ByID),
			// Company and report-type selects keep their portal defaults.
			chromedp.Sleep(2*time.Second),
		); err != nil {
			return err
		}

		// The viewer opens in a new tab; arm the listener before clicking.
		targets := chromedp.WaitNewTarget(ctx, func(info *target.Info) bool {
			return info.URL != "" && info.URL != "about:blank"
		})

		var clicked bool
		if err := d.runStage(ctx, "submit report form",
			chromedp.Evaluate(clickViewReportJS, &clicked),
			chromedp.Sleep(3*time.Second),
		); err != nil {
			return err
		}
		if !clicked {
			return &Error{Stage: "submit report form", Cause: fmt.Errorf("no view-report button found")}
		}

		viewerCtx := ctx
		var cancelTab context.CancelFunc
		select {
		case targetID := <-targets:
			log.Printf("[browser] report viewer opened in new tab")
			viewerCtx, cancelTab = chromedp.NewContext(ctx, chromedp.WithTargetID(targetID))
			defer cancelTab()
		case <-time.After(5 * time.Second):
			// Viewer rendered in place; keep the current tab.
		}

		if err := d.exportExcel(viewerCtx); err != nil {
			return err
		}

		path, err := d.waitForDownload(ctx, scratchDir)
		if err != nil {
			return err
		}
		resultPath = path
		return nil
	})
	if err != nil {
		return "", err
	}
	return resultPath, nil
}

// login fills the portal login form and submits it.
func (d *Driver) login(ctx context.Context, creds Credentials) error {
	return d.runStage(ctx, "login",
		chromedp.Navigate(d.cfg.PortalURL+"/"),
		chromedp.WaitVisible("#Company_code", chromedp.ByID),
		chromedp.Clear("#Company_code", chromedp.ByID),
		chromedp.SendKeys("#Company_code", creds.CompanyCode, chromedp.ByID),
		chromedp.Clear("#Username", chromedp.ByID),
		chromedp.SendKeys("#Username", creds.Username, chromedp.ByID),
		chromedp.Clear("#pass", chromedp.ByID),
		chromedp.SendKeys("#pass", creds.Password, chromedp.ByID),
		chromedp.Click("#Login", chromedp.ByID),
		chromedp.Sleep(3*time.Second),
	)
}

// exportExcel triggers the Excel export, falling back to the viewer's
// export command when no link is clickable.
func (d *Driver) exportExcel(ctx context.Context) error {
	stageCtx, cancel := context.WithTimeout(ctx, d.cfg.ElementTimeout+5*time.Second)
	defer cancel()

	var clicked bool
	err := chromedp.Run(stageCtx,
		chromedp.Sleep(3*time.Second), // viewer needs a moment to render
		chromedp.Evaluate(clickExcelExportJS, &clicked),
	)
	if err == nil && clicked {
		return nil
	}

	if runErr := chromedp.Run(stageCtx, chromedp.Evaluate(exportDirectJS, nil)); runErr != nil {
		cause := runErr
		if err != nil {
			cause = fmt.Errorf("%v (link click: %v)", runErr, err)
		}
		return &Error{Stage: "excel export", Cause: cause}
	}
	return nil
}

// waitForDownload polls scratchDir until a finished spreadsheet appears.
// Chrome writes in-progress downloads as .crdownload/.tmp, which are skipped.
func (d *Driver) waitForDownload(ctx context.Context, dir string) (string, error) {
	deadline := time.Now().Add(d.cfg.DownloadTimeout)
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", &Error{Stage: "download", Cause: err}
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
				continue
			}
			if strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls") {
				return filepath.Join(dir, name), nil
			}
		}

		if time.Now().After(deadline) {
			return "", &Error{
				Stage:   "download",
				Timeout: true,
				Cause:   fmt.Errorf("download did not complete within %s", d.cfg.DownloadTimeout),
			}
		}
		select {
		case <-ctx.Done():
			return "", &Error{Stage: "download", Timeout: true, Cause: ctx.Err()}
		case <-time.After(500 * time.Millisecond):
		}
	}
}
