package parse

import (
	"strings"
	"testing"
)

func TestCleanStripsRepeatedHeaders(t *testing.T) {
	pages := []string{
		"ACME Quarterly Report\n\nRevenue grew 12% in Q3.",
		"ACME Quarterly Report\n\nCosts were flat year over year.",
		"ACME Quarterly Report\n\nOutlook remains positive.",
	}

	cleaned := Clean(pages)
	for i, page := range cleaned {
		if strings.Contains(page, "ACME Quarterly Report") {
			t.Errorf("page %d still contains repeated header: %q", i+1, page)
		}
	}
	if !strings.Contains(cleaned[0], "Revenue grew 12%") {
		t.Errorf("body text lost: %q", cleaned[0])
	}
}

func TestCleanKeepsLineUniqueToOnePage(t *testing.T) {
	pages := []string{
		"Introduction\n\nSome body text.",
		"Methods\n\nMore body text.",
	}

	cleaned := Clean(pages)
	if !strings.Contains(cleaned[0], "Introduction") {
		t.Errorf("unique heading dropped: %q", cleaned[0])
	}
	if !strings.Contains(cleaned[1], "Methods") {
		t.Errorf("unique heading dropped: %q", cleaned[1])
	}
}

func TestCleanKeepsLongRepeatedLines(t *testing.T) {
	long := strings.Repeat("important sentence repeated verbatim in two places ", 3)
	pages := []string{long, long}

	cleaned := Clean(pages)
	if !strings.Contains(cleaned[0], "important sentence") {
		t.Errorf("long repeated content must survive: %q", cleaned[0])
	}
}

func TestCleanStripsPageNumberLines(t *testing.T) {
	cases := []string{"3", "  12  ", "Page 4", "page 4 of 20", "7 / 15"}
	for _, marker := range cases {
		pages := []string{"Real content here.\n" + marker}
		cleaned := Clean(pages)
		if strings.Contains(cleaned[0], strings.TrimSpace(marker)) {
			t.Errorf("page marker %q not stripped: %q", marker, cleaned[0])
		}
	}
}

func TestCleanKeepsNumbersInsideSentences(t *testing.T) {
	pages := []string{"The model has 7 layers.\nSee section 3 for details."}
	cleaned := Clean(pages)
	if !strings.Contains(cleaned[0], "7 layers") || !strings.Contains(cleaned[0], "section 3") {
		t.Errorf("inline numbers must survive: %q", cleaned[0])
	}
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	pages := []string{"First paragraph.\n\n\n\n\nSecond paragraph."}
	cleaned := Clean(pages)
	if strings.Contains(cleaned[0], "\n\n\n") {
		t.Errorf("blank run not collapsed: %q", cleaned[0])
	}
	if !strings.Contains(cleaned[0], "First paragraph.\n\nSecond paragraph.") {
		t.Errorf("paragraph break lost: %q", cleaned[0])
	}
}
