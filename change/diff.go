package change

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// hunkHeaderPattern matches unified diff hunk headers: @@ -a,b +c,d @@.
// The counts are optional and default to 1.
var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnifiedDiff converts `git diff` output into the ordered file
// inventory. Returns an empty slice for an empty diff (refs are equal).
func ParseUnifiedDiff(diff string) ([]FileChange, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, nil
	}

	var files []FileChange
	var current *FileChange
	var hunk *Hunk
	var hunkLines []string

	flushHunk := func() {
		if current == nil || hunk == nil {
			return
		}
		hunk.Text = strings.Join(hunkLines, "\n")
		current.Hunks = append(current.Hunks, *hunk)
		hunk = nil
		hunkLines = nil
	}

	flushFile := func() {
		flushHunk()
		if current == nil {
			return
		}
		files = append(files, *current)
		current = nil
	}

	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flushFile()
			path, err := parseDiffPath(line)
			if err != nil {
				return nil, err
			}
			// Kind is refined by the extended header lines below
			current = &FileChange{Path: path, Kind: KindModified}
			continue
		}

		if current == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "new file mode"):
			current.Kind = KindAdded
			continue
		case strings.HasPrefix(line, "deleted file mode"):
			current.Kind = KindDeleted
			continue
		case strings.HasPrefix(line, "rename from "):
			current.Kind = KindRenamed
			current.OldPath = strings.TrimPrefix(line, "rename from ")
			continue
		case strings.HasPrefix(line, "rename to "):
			current.Kind = KindRenamed
			current.Path = strings.TrimPrefix(line, "rename to ")
			continue
		}

		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			flushHunk()
			start, end, err := hunkRange(m)
			if err != nil {
				return nil, fmt.Errorf("invalid hunk header %q: %w", line, err)
			}
			hunk = &Hunk{StartLine: start, EndLine: end}
			continue
		}

		if hunk != nil {
			hunkLines = append(hunkLines, line)
		}
	}

	flushFile()
	return files, nil
}

// parseDiffPath extracts the post-change path from a "diff --git" header.
func parseDiffPath(line string) (string, error) {
	parts := strings.Split(line, " ")
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid diff header: %s", line)
	}
	path := strings.TrimPrefix(parts[len(parts)-1], "b/")
	if path == "" {
		return "", fmt.Errorf("invalid diff path: %s", line)
	}
	return path, nil
}

// hunkRange computes the hunk's line range from a matched header.
// Post-change coordinates are used; when the post-change side is empty
// (pure deletion) the pre-change side is used so the range stays real.
func hunkRange(m []string) (int, int, error) {
	oldStart, oldCount, err := sideRange(m[1], m[2])
	if err != nil {
		return 0, 0, err
	}
	newStart, newCount, err := sideRange(m[3], m[4])
	if err != nil {
		return 0, 0, err
	}

	start, count := newStart, newCount
	if count == 0 {
		start, count = oldStart, oldCount
	}
	if count == 0 {
		return start, start, nil
	}
	return start, start + count - 1, nil
}

func sideRange(startStr, countStr string) (int, int, error) {
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return 0, 0, err
	}
	count := 1
	if countStr != "" {
		count, err = strconv.Atoi(countStr)
		if err != nil {
			return 0, 0, err
		}
	}
	return start, count, nil
}
