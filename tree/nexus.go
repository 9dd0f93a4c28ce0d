package tree

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ExtractFirstNewick scans a NEXUS file for the first TREE statement
// ("TREE <name> = <newick>;", case-insensitive keyword, optional
// "[&R]"/"[&U]" rooting comment before the Newick text) and returns its
// Newick payload, terminated by the first top-level ';'. Lines are
// accumulated until the semicolon is found, since a single TREE statement
// commonly spans many lines in collaborator files.
//
// Grounded on original_source/permucn/tree.py:read_first_tree_newick.
func ExtractFirstNewick(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var buf strings.Builder
	collecting := false
	for scanner.Scan() {
		line := scanner.Text()
		if !collecting {
			trimmed := strings.TrimSpace(line)
			upper := strings.ToUpper(trimmed)
			if !strings.HasPrefix(upper, "TREE ") && !strings.HasPrefix(upper, "TREE\t") {
				continue
			}
			eq := strings.Index(line, "=")
			if eq < 0 {
				continue
			}
			line = line[eq+1:]
			collecting = true
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.Contains(line, ";") {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if !collecting {
		return "", fmt.Errorf("NEXUS file: no TREE statement found")
	}

	payload := buf.String()
	if semi := strings.Index(payload, ";"); semi >= 0 {
		payload = payload[:semi+1]
	}
	payload = strings.TrimSpace(payload)
	payload = stripRootingComment(payload)
	return payload, nil
}

// stripRootingComment removes a leading "[&R]" or "[&U]" NEXUS rooting
// comment, which some CAFE/tree export tools prepend to the Newick string.
func stripRootingComment(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return s
	}
	if end := strings.Index(s, "]"); end >= 0 {
		return strings.TrimSpace(s[end+1:])
	}
	return s
}
